package ledger_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbank/ledger-core/internal/domain"
	"github.com/meridianbank/ledger-core/internal/repository"
	"github.com/meridianbank/ledger-core/internal/service/ledger"
	"github.com/meridianbank/ledger-core/internal/testutil"
)

func setupLedgerService(t *testing.T, db *sql.DB) *ledger.Service {
	t.Helper()
	return ledger.NewService(
		repository.NewAccountRepository(db),
		repository.NewLedgerRepository(db),
		db,
	)
}

func TestDeposit_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	acct := testutil.SeedTestAccount(t, db, user.ID, 10000)

	balance, err := svc.Deposit(ctx, acct.ID, 2500, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(12500), balance)
	assert.Equal(t, int64(12500), testutil.GetAccountBalance(t, db, acct.ID))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, acct.ID, domain.EntryTypeDeposit))
}

func TestDeposit_InvalidAmount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	acct := testutil.SeedTestAccount(t, db, user.ID, 10000)

	_, err := svc.Deposit(ctx, acct.ID, 0, nil)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Deposit(ctx, acct.ID, -100, nil)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Equal(t, int64(10000), testutil.GetAccountBalance(t, db, acct.ID))
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, acct.ID, ""))
}

func TestDeposit_AccountNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)

	_, err := svc.Deposit(context.Background(), uuid.New(), 1000, nil)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestWithdraw_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	acct := testutil.SeedTestAccount(t, db, user.ID, 10000)

	balance, err := svc.Withdraw(ctx, acct.ID, 4000, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(6000), balance)
	assert.Equal(t, int64(6000), testutil.GetAccountBalance(t, db, acct.ID))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, acct.ID, domain.EntryTypeWithdrawal))
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	acct := testutil.SeedTestAccount(t, db, user.ID, 1000)

	_, err := svc.Withdraw(ctx, acct.ID, 5000, nil)

	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(1000), testutil.GetAccountBalance(t, db, acct.ID))
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, acct.ID, ""))
}

func TestTransfer_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	alice := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	bob := testutil.SeedTestUser(t, db, "bob@test.com", "Bob", "Okafor")
	from := testutil.SeedTestAccount(t, db, alice.ID, 10000)
	to := testutil.SeedTestAccount(t, db, bob.ID, 5000)

	err := svc.Transfer(ctx, from.ID, to.ID, 3000, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(7000), testutil.GetAccountBalance(t, db, from.ID))
	assert.Equal(t, int64(8000), testutil.GetAccountBalance(t, db, to.ID))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, from.ID, domain.EntryTypeTransferOut))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, to.ID, domain.EntryTypeTransferIn))
}

func TestTransfer_SameAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	acct := testutil.SeedTestAccount(t, db, user.ID, 10000)

	err := svc.Transfer(context.Background(), acct.ID, acct.ID, 1000, nil)
	require.ErrorIs(t, err, domain.ErrSameAccount)
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	alice := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	bob := testutil.SeedTestUser(t, db, "bob@test.com", "Bob", "Okafor")
	from := testutil.SeedTestAccount(t, db, alice.ID, 1000)
	to := testutil.SeedTestAccount(t, db, bob.ID, 0)

	err := svc.Transfer(ctx, from.ID, to.ID, 5000, nil)

	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(1000), testutil.GetAccountBalance(t, db, from.ID))
	assert.Equal(t, int64(0), testutil.GetAccountBalance(t, db, to.ID))
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, from.ID, ""))
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, to.ID, ""))
}

func TestTransfer_ConcurrentOverdraft(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	alice := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	bob := testutil.SeedTestUser(t, db, "bob@test.com", "Bob", "Okafor")
	from := testutil.SeedTestAccount(t, db, alice.ID, 10000)
	to := testutil.SeedTestAccount(t, db, bob.ID, 0)

	var wg sync.WaitGroup
	results := make(chan error, 2)

	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.Transfer(ctx, from.ID, to.ID, 7000, nil)
		}()
	}

	wg.Wait()
	close(results)

	var succeeded, failed int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientFunds)
			failed++
		}
	}

	// Row locking serializes the two transfers; only one can clear.
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, int64(3000), testutil.GetAccountBalance(t, db, from.ID))
	assert.Equal(t, int64(7000), testutil.GetAccountBalance(t, db, to.ID))
}

func TestLedger_BalanceMatchesEntrySum(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	acct := testutil.SeedTestAccount(t, db, user.ID, 0)

	_, err := svc.Deposit(ctx, acct.ID, 10000, nil)
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, acct.ID, 3000, nil)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, acct.ID, 500, nil)
	require.NoError(t, err)

	var sum int64
	err = db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`, acct.ID).Scan(&sum)
	require.NoError(t, err)
	assert.Equal(t, testutil.GetAccountBalance(t, db, acct.ID), sum)
}

func TestLedger_EntryHistoryPagination(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	repo := repository.NewLedgerRepository(db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	acct := testutil.SeedTestAccount(t, db, user.ID, 0)

	for range 5 {
		_, err := svc.Deposit(ctx, acct.ID, 1000, nil)
		require.NoError(t, err)
	}

	entries, total, err := repo.GetByAccountID(ctx, acct.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EntryTypeDeposit, entries[0].EntryType)
	// Newest first.
	assert.Equal(t, int64(5000), entries[0].BalanceAfter)

	entries, total, err = repo.GetByAccountID(ctx, acct.ID, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, entries, 1)
}
