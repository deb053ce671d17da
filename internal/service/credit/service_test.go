package credit_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbank/ledger-core/internal/domain"
	"github.com/meridianbank/ledger-core/internal/repository"
	"github.com/meridianbank/ledger-core/internal/service/credit"
	"github.com/meridianbank/ledger-core/internal/testutil"
)

func setupCreditService(t *testing.T, db *sql.DB) *credit.Service {
	t.Helper()
	return credit.NewService(
		repository.NewCreditInstrumentRepository(db),
		repository.NewLedgerRepository(db),
		db,
	)
}

func TestCharge_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	ins := testutil.SeedTestInstrument(t, db, user.ID, 500000, 500000)

	merchant := "Coffee Shop"
	available, err := svc.Charge(ctx, ins.ID, 4500, &merchant)

	require.NoError(t, err)
	assert.Equal(t, int64(495500), available)
	assert.Equal(t, int64(495500), testutil.GetAvailableCredit(t, db, ins.ID))
}

func TestCharge_InsufficientCredit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	ins := testutil.SeedTestInstrument(t, db, user.ID, 500000, 1000)

	_, err := svc.Charge(ctx, ins.ID, 2000, nil)

	require.ErrorIs(t, err, domain.ErrInsufficientCredit)
	assert.Equal(t, int64(1000), testutil.GetAvailableCredit(t, db, ins.ID))
	assert.Equal(t, int64(0), testutil.SumLedgerEntries(t, db, ins.ID))
}

func TestCharge_CardNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)

	_, err := svc.Charge(context.Background(), uuid.New(), 1000, nil)
	require.ErrorIs(t, err, domain.ErrCardNotFound)
}

func TestPayment_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	ins := testutil.SeedTestInstrument(t, db, user.ID, 500000, 400000)

	available, err := svc.Payment(ctx, ins.ID, 60000)

	require.NoError(t, err)
	assert.Equal(t, int64(460000), available)
	assert.Equal(t, int64(460000), testutil.GetAvailableCredit(t, db, ins.ID))
}

func TestPayment_ExceedsOutstandingBalance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	ins := testutil.SeedTestInstrument(t, db, user.ID, 500000, 450000)

	// Outstanding is 50000; paying more is rejected.
	_, err := svc.Payment(ctx, ins.ID, 60000)

	require.ErrorIs(t, err, domain.ErrPaymentExceedsBalance)
	assert.Equal(t, int64(450000), testutil.GetAvailableCredit(t, db, ins.ID))
}

func TestRefund_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	ins := testutil.SeedTestInstrument(t, db, user.ID, 500000, 490000)

	merchant := "Coffee Shop"
	available, err := svc.Refund(ctx, ins.ID, 4500, &merchant)

	require.NoError(t, err)
	assert.Equal(t, int64(494500), available)
}

func TestRefund_ExceedsLimit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	ins := testutil.SeedTestInstrument(t, db, user.ID, 500000, 499000)

	_, err := svc.Refund(ctx, ins.ID, 2000, nil)

	require.ErrorIs(t, err, domain.ErrRefundExceedsLimit)
	assert.Equal(t, int64(499000), testutil.GetAvailableCredit(t, db, ins.ID))
}

func TestCredit_EntrySumMatchesOutstanding(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	ins := testutil.SeedTestInstrument(t, db, user.ID, 500000, 500000)

	_, err := svc.Charge(ctx, ins.ID, 30000, nil)
	require.NoError(t, err)
	_, err = svc.Charge(ctx, ins.ID, 20000, nil)
	require.NoError(t, err)
	_, err = svc.Payment(ctx, ins.ID, 15000)
	require.NoError(t, err)
	_, err = svc.Refund(ctx, ins.ID, 5000, nil)
	require.NoError(t, err)

	// Entry amounts sum to available minus limit.
	available := testutil.GetAvailableCredit(t, db, ins.ID)
	assert.Equal(t, int64(470000), available)
	assert.Equal(t, available-500000, testutil.SumLedgerEntries(t, db, ins.ID))

	entries, total, err := repository.NewLedgerRepository(db).GetByInstrumentID(ctx, ins.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, entries, 4)
	// Newest first; the refund's snapshot matches the final available credit.
	assert.Equal(t, domain.EntryTypeRefund, entries[0].EntryType)
	assert.Equal(t, available, entries[0].BalanceAfter)
}
