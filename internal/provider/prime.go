package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trade-settlement-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const primeName = "prime"

// PrimeWallet is the custody wallet crypto sends are funded from.
type PrimeWallet struct {
	Symbol   string `yaml:"symbol"`
	WalletId string `yaml:"wallet_id"`
	// Network is "<id>-<type>", e.g. "ethereum-mainnet". Empty lets Prime pick the default.
	Network string `yaml:"network"`
}

type primeWalletsFile struct {
	Wallets []PrimeWallet `yaml:"wallets"`
}

// LoadPrimeWallets reads the currency to wallet mapping from a YAML file.
func LoadPrimeWallets(walletsFile string) (map[models.Currency]PrimeWallet, error) {
	path := walletsFile
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, walletsFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", walletsFile, err)
	}

	var file primeWalletsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", walletsFile, err)
	}

	out := make(map[models.Currency]PrimeWallet, len(file.Wallets))
	for i, w := range file.Wallets {
		currency, err := models.ParseCurrency(w.Symbol)
		if err != nil {
			return nil, fmt.Errorf("wallet at index %d: %w", i, err)
		}
		if !currency.IsCrypto() {
			return nil, fmt.Errorf("wallet at index %d: %s is not a crypto asset", i, currency)
		}
		if w.WalletId == "" {
			return nil, fmt.Errorf("wallet at index %d missing wallet_id", i)
		}
		out[currency] = w
	}
	return out, nil
}

type primeWithdrawer interface {
	CreateWalletWithdrawal(ctx context.Context, request *transactions.CreateWalletWithdrawalRequest) (*transactions.CreateWalletWithdrawalResponse, error)
}

type primeWalletLister interface {
	ListWallets(ctx context.Context, request *wallets.ListWalletsRequest) (*wallets.ListWalletsResponse, error)
}

// Prime sends crypto out of Coinbase Prime custody wallets.
type Prime struct {
	portfolioId     string
	wallets         map[models.Currency]PrimeWallet
	transactionsSvc primeWithdrawer
	walletsSvc      primeWalletLister
}

func NewPrime(creds *credentials.Credentials, portfolioId string, walletMap map[models.Currency]PrimeWallet) (*Prime, error) {
	httpClient, err := NewHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, *httpClient)

	return &Prime{
		portfolioId:     portfolioId,
		wallets:         walletMap,
		transactionsSvc: transactions.NewTransactionsService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
	}, nil
}

func (p *Prime) Name() string { return primeName }

// VerifyWallets checks that every configured wallet exists in the portfolio.
func (p *Prime) VerifyWallets(ctx context.Context) error {
	symbols := make([]string, 0, len(p.wallets))
	for c := range p.wallets {
		symbols = append(symbols, string(c))
	}

	response, err := p.walletsSvc.ListWallets(ctx, &wallets.ListWalletsRequest{
		PortfolioId: p.portfolioId,
		Type:        "VAULT",
		Symbols:     symbols,
	})
	if err != nil {
		return fmt.Errorf("unable to list wallets: %w", err)
	}

	found := make(map[string]bool, len(response.Wallets))
	for _, w := range response.Wallets {
		found[w.Id] = true
	}
	var missing []string
	for c, w := range p.wallets {
		if !found[w.WalletId] {
			missing = append(missing, fmt.Sprintf("%s(%s)", c, w.WalletId))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("wallets not found in portfolio %s: %s", p.portfolioId, strings.Join(missing, ", "))
	}
	return nil
}

// SendCrypto creates a blockchain withdrawal. The idempotency key is derived from the
// reference so retries of the same leg collapse into one Prime activity.
func (p *Prime) SendCrypto(ctx context.Context, req CryptoSendRequest) (*Result, error) {
	wallet, ok := p.wallets[req.Currency]
	if !ok {
		return &Result{Error: fmt.Sprintf("no custody wallet configured for %s", req.Currency)}, nil
	}

	blockchainAddr := &model.BlockchainAddress{Address: req.Address}
	network := req.Network
	if network == "" {
		network = wallet.Network
	}
	if id, typ, ok := strings.Cut(network, "-"); ok {
		blockchainAddr.Network = &model.NetworkDetails{Id: id, Type: typ}
	}

	request := &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:       p.portfolioId,
		SourceWalletId:    wallet.WalletId,
		Amount:            req.Amount.String(),
		IdempotencyKey:    idempotencyKey(req.Reference),
		Symbol:            string(req.Currency),
		DestinationType:   "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: blockchainAddr,
	}

	zap.L().Info("Creating withdrawal via Prime API",
		zap.String("portfolio_id", p.portfolioId),
		zap.String("wallet_id", wallet.WalletId),
		zap.String("symbol", request.Symbol),
		zap.String("amount", request.Amount),
		zap.String("reference", req.Reference))

	response, err := p.transactionsSvc.CreateWalletWithdrawal(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to create withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal created successfully",
		zap.String("activity_id", response.ActivityId),
		zap.String("reference", req.Reference))
	return &Result{Success: true, ProviderTxId: response.ActivityId}, nil
}

func idempotencyKey(reference string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("settlement:"+reference)).String()
}
