package database

import (
	"context"
	"errors"
	"sync"
	"testing"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	t.Helper()
	service, err := NewService(context.Background(), MemoryConfig())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	cleanup := func() {
		service.Close()
	}

	return service, cleanup
}

func credit(userId string, currency models.Currency, amount string, ref string) store.MovementParams {
	return store.MovementParams{
		UserId:    userId,
		Currency:  currency,
		Amount:    decimal.RequireFromString(amount),
		Reference: ref,
	}
}

func TestCredit_CreatesBalanceLazily(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	entry, err := service.GetBalanceEntry(ctx, "user1", models.BTC)
	if err != nil {
		t.Fatalf("GetBalanceEntry failed: %v", err)
	}
	if !entry.Amount.IsZero() || entry.Version != 0 {
		t.Errorf("Expected zero balance at version 0, got %s at version %d", entry.Amount, entry.Version)
	}

	version, err := service.Credit(ctx, credit("user1", models.BTC, "1.5", "tx1"))
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected version 1, got %d", version)
	}

	balance, err := service.GetBalance(ctx, "user1", models.BTC)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected balance 1.5, got %s", balance.String())
	}
}

func TestDebit_ReducesBalance(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := service.Credit(ctx, credit("user1", models.ETH, "2", "")); err != nil {
		t.Fatalf("Initial credit failed: %v", err)
	}

	version, err := service.Debit(ctx, credit("user1", models.ETH, "0.5", ""))
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}

	balance, _ := service.GetBalance(ctx, "user1", models.ETH)
	if !balance.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected balance 1.5, got %s", balance.String())
	}
}

func TestDebit_InsufficientFunds(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := service.Credit(ctx, credit("user1", models.BTC, "0.1", "")); err != nil {
		t.Fatalf("Initial credit failed: %v", err)
	}

	_, err := service.Debit(ctx, credit("user1", models.BTC, "0.2", ""))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	// No partial debit
	entry, _ := service.GetBalanceEntry(ctx, "user1", models.BTC)
	if !entry.Amount.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("Expected balance unchanged at 0.1, got %s", entry.Amount.String())
	}
	if entry.Version != 1 {
		t.Errorf("Expected version unchanged at 1, got %d", entry.Version)
	}
}

func TestDebit_FromMissingBalance(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.Debit(context.Background(), credit("nobody", models.USDT, "1", ""))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}
}

func TestCredit_StaleExpectedVersion(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := service.Credit(ctx, credit("user1", models.NGN, "1000", "")); err != nil {
		t.Fatalf("Initial credit failed: %v", err)
	}

	stale := int64(0)
	params := credit("user1", models.NGN, "5", "")
	params.ExpectedVersion = &stale
	if _, err := service.Credit(ctx, params); !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification, got %v", err)
	}

	current := int64(1)
	params.ExpectedVersion = &current
	version, err := service.Credit(ctx, params)
	if err != nil {
		t.Fatalf("Credit with current version failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}
}

func TestMovement_DuplicateReference(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := service.Credit(ctx, credit("user1", models.BTC, "1", "duplicate-tx")); err != nil {
		t.Fatalf("First credit failed: %v", err)
	}

	_, err := service.Credit(ctx, credit("user1", models.BTC, "1", "duplicate-tx"))
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate transaction error, got: %v", err)
	}

	balance, _ := service.GetBalance(ctx, "user1", models.BTC)
	if !balance.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected balance 1 after duplicate, got %s", balance.String())
	}
}

func TestMovement_RejectsInvalidAmounts(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	tests := []struct {
		name   string
		params store.MovementParams
	}{
		{"zero", credit("user1", models.BTC, "0", "")},
		{"negative", credit("user1", models.BTC, "-1", "")},
		{"too precise", credit("user1", models.NGN, "1.001", "")},
		{"unknown currency", credit("user1", models.Currency("DOGE"), "1", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.Credit(ctx, tt.params); !errors.Is(err, store.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestWithTx_RollsBackAllLegs(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := service.Credit(ctx, credit("user1", models.ETH, "0.5", "")); err != nil {
		t.Fatalf("Initial credit failed: %v", err)
	}

	failure := errors.New("provider down")
	err := service.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Debit(ctx, credit("user1", models.ETH, "0.5", "")); err != nil {
			return err
		}
		if _, err := tx.Credit(ctx, credit(models.EscrowAccount, models.ETH, "0.5", "")); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Expected injected failure, got %v", err)
	}

	userBalance, _ := service.GetBalance(ctx, "user1", models.ETH)
	escrowBalance, _ := service.GetBalance(ctx, models.EscrowAccount, models.ETH)
	if !userBalance.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected user balance restored to 0.5, got %s", userBalance.String())
	}
	if !escrowBalance.IsZero() {
		t.Errorf("Expected escrow balance 0, got %s", escrowBalance.String())
	}
}

func TestBalanceNeverNegativeUnderConcurrentDebits(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := service.Credit(ctx, credit("user1", models.USDT, "10", "")); err != nil {
		t.Fatalf("Initial credit failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.Debit(ctx, credit("user1", models.USDT, "1", "")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrInsufficientFunds) {
				t.Errorf("Unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("Expected exactly 10 successful debits, got %d", succeeded)
	}
	entry, _ := service.GetBalanceEntry(ctx, "user1", models.USDT)
	if !entry.Amount.IsZero() {
		t.Errorf("Expected balance 0, got %s", entry.Amount.String())
	}
	if entry.Version != 11 {
		t.Errorf("Expected version 11, got %d", entry.Version)
	}
}

func TestSortBalanceKeys(t *testing.T) {
	keys := []store.BalanceKey{
		{UserId: "user2", Currency: models.BTC},
		{UserId: models.EscrowAccount, Currency: models.ETH},
		{UserId: "user2", Currency: models.BTC},
		{UserId: "user1", Currency: models.USDT},
		{UserId: "user1", Currency: models.BTC},
	}

	got := SortBalanceKeys(keys)
	want := []store.BalanceKey{
		{UserId: models.EscrowAccount, Currency: models.ETH},
		{UserId: "user1", Currency: models.BTC},
		{UserId: "user1", Currency: models.USDT},
		{UserId: "user2", Currency: models.BTC},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d keys, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Key %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestDialectBind(t *testing.T) {
	query := "UPDATE balances SET amount = ? WHERE user_id = ? AND version = ?"

	if got := dialectSQLite.bind(query); got != query {
		t.Errorf("SQLite bind changed query: %s", got)
	}
	want := "UPDATE balances SET amount = $1 WHERE user_id = $2 AND version = $3"
	if got := dialectPostgres.bind(query); got != want {
		t.Errorf("Postgres bind = %q, want %q", got, want)
	}
}
