// Package funds moves money between the ledger and the outside world: fiat deposits
// confirmed by provider callback, and crypto or fiat withdrawals.
package funds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trade-settlement-go/internal/metrics"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/notify"
	"trade-settlement-go/internal/provider"
	"trade-settlement-go/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	store    store.Store
	fiat     provider.FiatGateway
	crypto   provider.CryptoGateway
	notifier notify.Notifier
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*Service)

// WithNotifier sets where withdrawals that need manual reconciliation are reported.
func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

func NewService(st store.Store, fiat provider.FiatGateway, crypto provider.CryptoGateway, opts ...Option) *Service {
	s := &Service{
		store:    st,
		fiat:     fiat,
		crypto:   crypto,
		notifier: notify.Log{},
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

type DepositRequest struct {
	UserId   string          `json:"-" validate:"required"`
	Currency models.Currency `json:"currency" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Phone    string          `json:"phone" validate:"required,numeric,min=9,max=15"`
}

// InitiateDeposit sends the STK push and records the pending deposit under the
// provider's checkout id. Nothing is recorded when the provider refuses.
func (s *Service) InitiateDeposit(ctx context.Context, req DepositRequest) (*models.Deposit, error) {
	req.Phone = strings.TrimPrefix(strings.TrimSpace(req.Phone), "+")
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	if !req.Currency.IsFiat() {
		return nil, fmt.Errorf("%w: deposits are fiat only, got %s", store.ErrInvalidArgument, req.Currency)
	}
	if err := req.Currency.ValidateAmount(req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}

	now := s.clock()
	deposit := &models.Deposit{
		Id:        uuid.New().String(),
		UserId:    req.UserId,
		Currency:  req.Currency,
		Amount:    req.Amount,
		Phone:     req.Phone,
		Provider:  s.fiat.Name(),
		Status:    models.FundsPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := s.fiat.InitiateDeposit(ctx, provider.DepositRequest{
		Reference: deposit.Id,
		UserId:    req.UserId,
		Currency:  req.Currency,
		Amount:    req.Amount,
		Phone:     req.Phone,
	})
	if err := provider.Failure(s.fiat.Name(), "deposit", res, err); err != nil {
		metrics.FundsOperations.WithLabelValues("deposit", "provider_failure").Inc()
		return nil, fmt.Errorf("%w: %v", store.ErrProviderFailure, err)
	}
	deposit.ProviderTxId = res.ProviderTxId

	if err := s.store.InsertDeposit(ctx, deposit); err != nil {
		return nil, err
	}

	metrics.FundsOperations.WithLabelValues("deposit", "initiated").Inc()
	zap.L().Info("Deposit initiated",
		zap.String("deposit_id", deposit.Id),
		zap.String("user_id", deposit.UserId),
		zap.String("currency", string(deposit.Currency)),
		zap.String("amount", deposit.Amount.String()),
		zap.String("provider_tx_id", deposit.ProviderTxId))
	return deposit, nil
}

// ConfirmDeposit applies the provider's verdict. It is idempotent: a deposit that
// already left pending is returned unchanged and the ledger is credited at most once.
func (s *Service) ConfirmDeposit(ctx context.Context, providerTxId string, success bool) (*models.Deposit, error) {
	if strings.TrimSpace(providerTxId) == "" {
		return nil, fmt.Errorf("%w: provider transaction id is required", store.ErrInvalidArgument)
	}

	var deposit *models.Deposit
	changed := false
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		deposit, err = tx.LockDepositByProviderTx(ctx, providerTxId)
		if err != nil {
			return err
		}
		if deposit.Status != models.FundsPending {
			return nil
		}

		if err := tx.LockBalances(ctx, []store.BalanceKey{{UserId: deposit.UserId, Currency: deposit.Currency}}); err != nil {
			return err
		}

		now := s.clock()
		to := models.FundsFailed
		if success {
			to = models.FundsConfirmed
			_, err := tx.Credit(ctx, store.MovementParams{
				UserId:       deposit.UserId,
				Currency:     deposit.Currency,
				Amount:       deposit.Amount,
				Reference:    "deposit:" + providerTxId,
				Counterparty: deposit.Provider,
			})
			if err != nil && !errors.Is(err, store.ErrDuplicateTransaction) {
				return err
			}
		}
		if err := tx.UpdateDepositStatus(ctx, deposit.Id, models.FundsPending, to, now); err != nil {
			return err
		}
		deposit.Status = to
		deposit.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.FundsOperations.WithLabelValues("deposit", string(deposit.Status)).Inc()
		zap.L().Info("Deposit settled",
			zap.String("deposit_id", deposit.Id),
			zap.String("provider_tx_id", providerTxId),
			zap.String("status", string(deposit.Status)))
	} else {
		zap.L().Info("Deposit callback already applied",
			zap.String("deposit_id", deposit.Id),
			zap.String("status", string(deposit.Status)))
	}
	return deposit, nil
}

type WithdrawRequest struct {
	UserId      string          `json:"-" validate:"required"`
	Currency    models.Currency `json:"currency" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination" validate:"required,max=256"`
	// Network selects the chain for crypto sends, e.g. "ethereum-mainnet".
	Network string `json:"network" validate:"max=64"`
	// Method selects the payout rail for fiat, e.g. "mpesa".
	Method string `json:"method" validate:"max=64"`
}

// Withdraw debits the user and hands the amount to the matching provider in one
// transaction. The provider call is its last step, after the debit and the pending
// withdrawal row, so a provider refusal rolls everything back and no database write
// can fail after money left. A payout marker keyed by the ledger reference is
// committed before the call and resolved afterwards.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (*models.Withdrawal, error) {
	req.Destination = strings.TrimSpace(req.Destination)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	if err := req.Currency.ValidateAmount(req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}

	withdrawal := &models.Withdrawal{
		Id:          uuid.New().String(),
		UserId:      req.UserId,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Destination: req.Destination,
		Provider:    s.providerName(req.Currency),
		Status:      models.FundsPending,
		CreatedAt:   s.clock(),
	}
	reference := "withdrawal:" + withdrawal.Id
	marker := &models.Payout{Reference: reference, Provider: withdrawal.Provider, Status: models.FundsPending}
	if err := s.store.SavePayout(ctx, marker); err != nil {
		return nil, err
	}

	var sentTxId string
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := s.debit(ctx, tx, withdrawal, reference); err != nil {
			return err
		}
		if err := tx.InsertWithdrawal(ctx, withdrawal); err != nil {
			return err
		}

		txId, err := s.send(ctx, reference, req)
		if err != nil {
			return err
		}
		sentTxId = txId
		if err := tx.ConfirmWithdrawal(ctx, withdrawal.Id, txId); err != nil {
			return err
		}
		confirmed := *marker
		confirmed.ProviderTxId = txId
		confirmed.Status = models.FundsConfirmed
		return tx.SavePayout(ctx, &confirmed)
	})
	if err != nil && sentTxId != "" {
		err = s.recordSent(ctx, withdrawal, marker, sentTxId, err)
	}
	if err != nil {
		if sentTxId == "" {
			failed := *marker
			failed.Status = models.FundsFailed
			if serr := s.store.SavePayout(ctx, &failed); serr != nil {
				zap.L().Warn("Failed to mark withdrawal payout failed", zap.String("reference", reference), zap.Error(serr))
			}
		}
		outcome := "failed"
		if errors.Is(err, store.ErrProviderFailure) {
			outcome = "provider_failure"
		}
		metrics.FundsOperations.WithLabelValues("withdrawal", outcome).Inc()
		zap.L().Warn("Withdrawal rolled back",
			zap.String("user_id", req.UserId),
			zap.String("currency", string(req.Currency)),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		return nil, err
	}

	withdrawal.ProviderTxId = sentTxId
	withdrawal.Status = models.FundsConfirmed
	metrics.FundsOperations.WithLabelValues("withdrawal", "accepted").Inc()
	zap.L().Info("Withdrawal accepted",
		zap.String("withdrawal_id", withdrawal.Id),
		zap.String("provider", withdrawal.Provider),
		zap.String("provider_tx_id", withdrawal.ProviderTxId))
	return withdrawal, nil
}

func (s *Service) debit(ctx context.Context, tx store.Tx, w *models.Withdrawal, reference string) error {
	if err := tx.LockBalances(ctx, []store.BalanceKey{{UserId: w.UserId, Currency: w.Currency}}); err != nil {
		return err
	}
	_, err := tx.Debit(ctx, store.MovementParams{
		UserId:       w.UserId,
		Currency:     w.Currency,
		Amount:       w.Amount,
		Reference:    reference,
		Counterparty: w.Destination,
	})
	return err
}

// recordSent books a withdrawal the provider accepted after its transaction rolled
// back. The debit reference makes the retry idempotent. When even this fails the
// payout marker keeps the provider id and operators are alerted.
func (s *Service) recordSent(ctx context.Context, w *models.Withdrawal, marker *models.Payout, txId string, cause error) error {
	zap.L().Error("Withdrawal sent but its transaction rolled back",
		zap.String("withdrawal_id", w.Id),
		zap.String("provider_tx_id", txId),
		zap.Error(cause))

	reference := marker.Reference
	confirmed := *marker
	confirmed.ProviderTxId = txId
	confirmed.Status = models.FundsConfirmed

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := s.debit(ctx, tx, w, reference); err != nil && !errors.Is(err, store.ErrDuplicateTransaction) {
			return err
		}
		recorded := *w
		recorded.ProviderTxId = txId
		recorded.Status = models.FundsConfirmed
		if err := tx.InsertWithdrawal(ctx, &recorded); err != nil {
			return err
		}
		return tx.SavePayout(ctx, &confirmed)
	})
	if err == nil {
		return nil
	}

	if serr := s.store.SavePayout(ctx, &confirmed); serr != nil {
		zap.L().Error("Failed to record withdrawal payout", zap.String("reference", reference), zap.Error(serr))
	}
	text := fmt.Sprintf("Withdrawal %s for %s sent %s %s via %s (provider tx %s) but was not booked: %v",
		w.Id, w.UserId, w.Amount.String(), w.Currency, w.Provider, txId, err)
	if nerr := s.notifier.Notify(ctx, text); nerr != nil {
		zap.L().Warn("Failed to notify operators", zap.Error(nerr))
	}
	return fmt.Errorf("withdrawal %s sent as %s but not booked: %w", w.Id, txId, cause)
}

func (s *Service) providerName(currency models.Currency) string {
	if currency.IsCrypto() {
		return s.crypto.Name()
	}
	return s.fiat.Name()
}

func (s *Service) send(ctx context.Context, reference string, req WithdrawRequest) (string, error) {
	name := s.providerName(req.Currency)
	var res *provider.Result
	var err error
	if req.Currency.IsCrypto() {
		res, err = s.crypto.SendCrypto(ctx, provider.CryptoSendRequest{
			Reference: reference,
			Currency:  req.Currency,
			Amount:    req.Amount,
			Address:   req.Destination,
			Network:   req.Network,
		})
	} else {
		res, err = s.fiat.InitiatePayout(ctx, provider.PayoutRequest{
			Reference:   reference,
			UserId:      req.UserId,
			Currency:    req.Currency,
			Amount:      req.Amount,
			Method:      req.Method,
			Destination: req.Destination,
		})
	}
	if err := provider.Failure(name, "withdrawal", res, err); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrProviderFailure, err)
	}
	return res.ProviderTxId, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, userId string, limit int) ([]models.Withdrawal, error) {
	return s.store.ListWithdrawals(ctx, userId, limit)
}

func (s *Service) Balances(ctx context.Context, userId string) ([]models.Balance, error) {
	return s.store.GetBalances(ctx, userId)
}
