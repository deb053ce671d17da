package authorization_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbank/ledger-core/internal/domain"
	"github.com/meridianbank/ledger-core/internal/repository"
	"github.com/meridianbank/ledger-core/internal/service/authorization"
	"github.com/meridianbank/ledger-core/internal/testutil"
)

func setupEngine(t *testing.T, db *sql.DB) *authorization.Engine {
	t.Helper()
	return authorization.NewEngine(
		repository.NewConsentRepository(db),
		repository.NewCreditInstrumentRepository(db),
		repository.NewAuthorizationRepository(db),
		repository.NewLedgerRepository(db),
		db,
		tokenSecret,
		7*24*time.Hour,
	)
}

func seedConsentedInstrument(t *testing.T, db *sql.DB, available int64, maxAmount *int64) (*domain.CreditInstrument, *domain.PaymentConsent) {
	t.Helper()
	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	ins := testutil.SeedTestInstrument(t, db, user.ID, 500000, available)
	consent := testutil.SeedTestConsent(t, db, ins.ID, uuid.NewString(), "merchant-1", "Coffee Shop",
		maxAmount, time.Now().Add(24*time.Hour), nil)
	return ins, consent
}

func authorize(t *testing.T, engine *authorization.Engine, token string, amount int64) *authorization.AuthorizeResult {
	t.Helper()
	result, err := engine.Authorize(context.Background(), authorization.AuthorizeRequest{
		CardToken:    token,
		Amount:       amount,
		Currency:     domain.CurrencyUSD,
		MerchantID:   "merchant-1",
		MerchantName: "Coffee Shop",
	})
	require.NoError(t, err)
	return result
}

func TestAuthorize_Approved(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)

	ins, consent := seedConsentedInstrument(t, db, 500000, nil)

	result := authorize(t, engine, consent.Token, 10000)

	assert.True(t, result.Approved)
	assert.NotEmpty(t, result.AuthorizationCode)
	assert.Equal(t, int64(490000), result.AvailableCredit)
	assert.Equal(t, int64(490000), testutil.GetAvailableCredit(t, db, ins.ID))

	// Reserving credit writes no ledger entry; only capture does.
	assert.Equal(t, int64(0), testutil.SumLedgerEntries(t, db, ins.ID))
}

func TestAuthorize_DeclineReasons(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	ins := testutil.SeedTestInstrument(t, db, user.ID, 500000, 5000)

	revokedAt := time.Now().Add(-time.Hour)
	maxAmount := int64(2000)

	revoked := testutil.SeedTestConsent(t, db, ins.ID, uuid.NewString(), "merchant-1", "Coffee Shop",
		nil, time.Now().Add(24*time.Hour), &revokedAt)
	expired := testutil.SeedTestConsent(t, db, ins.ID, uuid.NewString(), "merchant-1", "Coffee Shop",
		nil, time.Now().Add(-time.Hour), nil)
	capped := testutil.SeedTestConsent(t, db, ins.ID, uuid.NewString(), "merchant-1", "Coffee Shop",
		&maxAmount, time.Now().Add(24*time.Hour), nil)
	live := testutil.SeedTestConsent(t, db, ins.ID, uuid.NewString(), "merchant-1", "Coffee Shop",
		nil, time.Now().Add(24*time.Hour), nil)

	tests := []struct {
		name       string
		token      string
		amount     int64
		merchantID string
		reason     string
	}{
		{"unknown token", "no-such-token", 1000, "merchant-1", authorization.DeclineInvalidCardToken},
		{"revoked consent", revoked.Token, 1000, "merchant-1", authorization.DeclineConsentRevoked},
		{"expired consent", expired.Token, 1000, "merchant-1", authorization.DeclineConsentExpired},
		{"merchant mismatch", live.Token, 1000, "merchant-2", authorization.DeclineMerchantMismatch},
		{"amount above cap", capped.Token, 3000, "merchant-1", authorization.DeclineAmountExceedsMax},
		{"insufficient credit", live.Token, 9000, "merchant-1", authorization.DeclineInsufficientCredit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Authorize(ctx, authorization.AuthorizeRequest{
				CardToken:    tt.token,
				Amount:       tt.amount,
				Currency:     domain.CurrencyUSD,
				MerchantID:   tt.merchantID,
				MerchantName: "Somewhere",
			})
			require.NoError(t, err)
			assert.False(t, result.Approved)
			assert.Equal(t, tt.reason, result.DeclineReason)
		})
	}

	// Declines reserve nothing.
	assert.Equal(t, int64(5000), testutil.GetAvailableCredit(t, db, ins.ID))
}

func TestAuthorize_VerifiedWrapperSkipsMerchantCheck(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	_, consent := seedConsentedInstrument(t, db, 500000, nil)

	wrapped, err := authorization.EncodeCardToken(consent.Token, tokenSecret, time.Hour)
	require.NoError(t, err)

	result, err := engine.Authorize(ctx, authorization.AuthorizeRequest{
		CardToken:    wrapped,
		Amount:       1000,
		Currency:     domain.CurrencyUSD,
		MerchantID:   "merchant-other",
		MerchantName: "Somewhere Else",
	})

	require.NoError(t, err)
	assert.True(t, result.Approved)
}

func TestCapture_Full(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	ins, consent := seedConsentedInstrument(t, db, 500000, nil)
	auth := authorize(t, engine, consent.Token, 10000)

	result, err := engine.Capture(ctx, auth.AuthorizationCode, 10000)

	require.NoError(t, err)
	assert.Equal(t, int64(10000), result.CapturedAmount)
	assert.Equal(t, int64(490000), result.AvailableCredit)

	// The charge entry restores the entry-sum invariant.
	assert.Equal(t, int64(490000-500000), testutil.SumLedgerEntries(t, db, ins.ID))
}

func TestCapture_PartialReleasesRemainder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	ins, consent := seedConsentedInstrument(t, db, 500000, nil)
	auth := authorize(t, engine, consent.Token, 10000)

	result, err := engine.Capture(ctx, auth.AuthorizationCode, 6000)

	require.NoError(t, err)
	assert.Equal(t, int64(6000), result.CapturedAmount)
	assert.Equal(t, int64(494000), result.AvailableCredit)
	assert.Equal(t, int64(494000), testutil.GetAvailableCredit(t, db, ins.ID))
}

func TestCapture_AboveHoldClampsToHeldAmount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	_, consent := seedConsentedInstrument(t, db, 500000, nil)
	auth := authorize(t, engine, consent.Token, 10000)

	result, err := engine.Capture(ctx, auth.AuthorizationCode, 99999)

	require.NoError(t, err)
	assert.Equal(t, int64(10000), result.CapturedAmount)
}

func TestCapture_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)

	_, err := engine.Capture(context.Background(), uuid.NewString(), 1000)
	require.ErrorIs(t, err, authorization.ErrAuthorizationNotFound)
}

func TestCapture_AlreadyCaptured(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	_, consent := seedConsentedInstrument(t, db, 500000, nil)
	auth := authorize(t, engine, consent.Token, 10000)

	_, err := engine.Capture(ctx, auth.AuthorizationCode, 10000)
	require.NoError(t, err)

	_, err = engine.Capture(ctx, auth.AuthorizationCode, 10000)
	var stateErr *authorization.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.AuthorizationStatusCaptured, stateErr.Status)
}

func TestCapture_ExpiredHoldReleasesCredit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	ins, consent := seedConsentedInstrument(t, db, 500000, nil)
	auth := authorize(t, engine, consent.Token, 10000)

	_, err := db.Exec(`UPDATE authorization_holds SET expires_at = now() - interval '1 hour' WHERE code = $1`,
		auth.AuthorizationCode)
	require.NoError(t, err)

	_, err = engine.Capture(ctx, auth.AuthorizationCode, 10000)
	require.ErrorIs(t, err, authorization.ErrAuthorizationExpired)

	// The expiry transition commits even though the capture failed.
	assert.Equal(t, int64(500000), testutil.GetAvailableCredit(t, db, ins.ID))

	hold, err := repository.NewAuthorizationRepository(db).GetByCode(ctx, auth.AuthorizationCode)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationStatusExpired, hold.Status)
}

func TestVoid_RestoresCredit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	ins, consent := seedConsentedInstrument(t, db, 500000, nil)
	auth := authorize(t, engine, consent.Token, 10000)

	available, err := engine.Void(ctx, auth.AuthorizationCode)

	require.NoError(t, err)
	assert.Equal(t, int64(500000), available)
	assert.Equal(t, int64(500000), testutil.GetAvailableCredit(t, db, ins.ID))
	assert.Equal(t, int64(0), testutil.SumLedgerEntries(t, db, ins.ID))
}

func TestRefund_Lifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice", "Nguyen")
	ins := testutil.SeedTestInstrument(t, db, user.ID, 5000, 5000)
	consent := testutil.SeedTestConsent(t, db, ins.ID, uuid.NewString(), "merchant-1", "Coffee Shop",
		nil, time.Now().Add(24*time.Hour), nil)

	auth := authorize(t, engine, consent.Token, 1000)
	assert.Equal(t, int64(4000), auth.AvailableCredit)

	capture, err := engine.Capture(ctx, auth.AuthorizationCode, 600)
	require.NoError(t, err)
	assert.Equal(t, int64(600), capture.CapturedAmount)
	assert.Equal(t, int64(4400), capture.AvailableCredit)

	available, err := engine.Refund(ctx, auth.AuthorizationCode, 600)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), available)

	// Everything captured has been refunded; a second refund has nothing
	// left to return.
	_, err = engine.Refund(ctx, auth.AuthorizationCode, 100)
	require.ErrorIs(t, err, authorization.ErrNothingToRefund)
}

func TestRefund_ClampsToCapturedAmount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	ins, consent := seedConsentedInstrument(t, db, 500000, nil)
	auth := authorize(t, engine, consent.Token, 10000)

	_, err := engine.Capture(ctx, auth.AuthorizationCode, 10000)
	require.NoError(t, err)

	available, err := engine.Refund(ctx, auth.AuthorizationCode, 25000)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), available)
	assert.Equal(t, int64(500000), testutil.GetAvailableCredit(t, db, ins.ID))
}

func TestRefund_PendingHoldRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)

	_, consent := seedConsentedInstrument(t, db, 500000, nil)
	auth := authorize(t, engine, consent.Token, 10000)

	_, err := engine.Refund(context.Background(), auth.AuthorizationCode, 1000)
	var stateErr *authorization.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.AuthorizationStatusPending, stateErr.Status)
}

func TestValidateCardToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	_, consent := seedConsentedInstrument(t, db, 500000, nil)

	assert.True(t, engine.ValidateCardToken(ctx, consent.Token))
	assert.False(t, engine.ValidateCardToken(ctx, "no-such-token"))
}
