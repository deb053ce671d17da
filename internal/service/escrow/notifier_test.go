package escrow_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbank/ledger-core/internal/domain"
	"github.com/meridianbank/ledger-core/internal/service/escrow"
)

func TestWebhookNotifier_SignedDelivery(t *testing.T) {
	const secret = "webhook-test-secret"

	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.True(t, escrow.VerifySignature(body, r.Header.Get(escrow.SignatureHeader), secret))
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := escrow.NewWebhookNotifier(srv.URL, secret)
	hold := &domain.EscrowHold{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		AccountID:  uuid.New(),
		ContractID: "contract-1",
		Amount:     12345,
		Currency:   domain.CurrencyUSD,
		Status:     domain.EscrowStatusHeld,
		ExpiresAt:  time.Now().Add(24 * time.Hour).UTC(),
	}

	notifier.HoldCreated(context.Background(), hold)

	select {
	case body := <-received:
		var envelope struct {
			EventID   string `json:"event_id"`
			EventType string `json:"event_type"`
			Data      struct {
				EscrowID   string `json:"escrow_id"`
				ContractID string `json:"contract_id"`
				Amount     string `json:"amount"`
				Currency   string `json:"currency"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(body, &envelope))
		assert.NotEmpty(t, envelope.EventID)
		assert.Equal(t, escrow.EventTypeHoldCreated, envelope.EventType)
		assert.Equal(t, hold.ID.String(), envelope.Data.EscrowID)
		assert.Equal(t, "contract-1", envelope.Data.ContractID)
		assert.Equal(t, "123.45", envelope.Data.Amount)
		assert.Equal(t, "USD", envelope.Data.Currency)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event_type":"escrow.hold_created"}`)

	sig := escrow.Sign(body, "secret-a")
	assert.True(t, escrow.VerifySignature(body, sig, "secret-a"))
	assert.False(t, escrow.VerifySignature(body, sig, "secret-b"))
	assert.False(t, escrow.VerifySignature([]byte("tampered"), sig, "secret-a"))
	assert.False(t, escrow.VerifySignature(body, "", "secret-a"))
}
