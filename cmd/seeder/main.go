// seeder populates a development database with demo users, accounts and
// credit instruments.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridianbank/ledger-core/internal/config"
	"github.com/meridianbank/ledger-core/internal/domain"
	"github.com/meridianbank/ledger-core/internal/logging"
	"github.com/meridianbank/ledger-core/internal/repository"
	"github.com/meridianbank/ledger-core/internal/service/account"
	"github.com/meridianbank/ledger-core/internal/service/authorization"
	"github.com/meridianbank/ledger-core/internal/service/ledger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("seeder", cfg.LogLevel, cfg.AppEnv)
	ctx := context.Background()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetimeS: 300, ConnMaxIdleTimeS: 60,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	users := repository.NewUserRepository(db)
	accounts := repository.NewAccountRepository(db)
	instruments := repository.NewCreditInstrumentRepository(db)
	entries := repository.NewLedgerRepository(db)
	consents := repository.NewConsentRepository(db)

	accountSvc := account.NewService(accounts, instruments, users)
	ledgerSvc := ledger.NewService(accounts, entries, db)

	demo := []struct {
		email     string
		firstName string
		lastName  string
		balance   int64
		limit     int64
	}{
		{"alice@example.com", "Alice", "Nguyen", 250_000, 500_000},
		{"bob@example.com", "Bob", "Okafor", 120_000, 300_000},
		{"carol@example.com", "Carol", "Silva", 75_000, 0},
	}

	for _, d := range demo {
		userID, err := seedUser(ctx, db, d.email, d.firstName, d.lastName)
		if err != nil {
			slog.Error("failed to seed user", "email", d.email, "error", err)
			os.Exit(1)
		}

		acct, err := accountSvc.OpenAccount(ctx, userID)
		if err != nil {
			slog.Error("failed to open account", "email", d.email, "error", err)
			os.Exit(1)
		}
		if d.balance > 0 {
			desc := "initial deposit"
			if _, err := ledgerSvc.Deposit(ctx, acct.ID, d.balance, &desc); err != nil {
				slog.Error("failed to seed balance", "email", d.email, "error", err)
				os.Exit(1)
			}
		}
		if d.limit > 0 {
			ins, err := accountSvc.IssueInstrument(ctx, userID, d.limit)
			if err != nil {
				slog.Error("failed to issue instrument", "email", d.email, "error", err)
				os.Exit(1)
			}

			consent := &domain.PaymentConsent{
				ID:           uuid.New(),
				Token:        uuid.NewString(),
				InstrumentID: ins.ID,
				MerchantID:   "demo-merchant",
				MerchantName: "Demo Merchant",
				ExpiresAt:    time.Now().UTC().Add(90 * 24 * time.Hour),
				CreatedAt:    time.Now().UTC(),
			}
			if err := consents.Create(ctx, consent); err != nil {
				slog.Error("failed to seed consent", "email", d.email, "error", err)
				os.Exit(1)
			}

			cardToken, err := authorization.EncodeCardToken(consent.Token, cfg.CardTokenSecret, 24*time.Hour)
			if err != nil {
				slog.Error("failed to encode card token", "email", d.email, "error", err)
				os.Exit(1)
			}
			slog.Info("seeded consent", "email", d.email, "card_token", cardToken)
		}
		slog.Info("seeded user", "email", d.email, "account_id", acct.ID)
	}
}

func seedUser(ctx context.Context, db *sql.DB, email, firstName, lastName string) (uuid.UUID, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err = db.ExecContext(ctx,
		`INSERT INTO users (id, email, first_name, last_name, password_hash, p2p_enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		 ON CONFLICT (email) DO NOTHING`,
		id, email, firstName, lastName, string(hash), time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, err
	}

	// The insert may have been a no-op on rerun; read the row back.
	err = db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
