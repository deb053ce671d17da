package escrow

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianbank/ledger-core/internal/domain"
	"github.com/meridianbank/ledger-core/internal/logging"
)

const (
	EventTypeHoldCreated = "escrow.hold_created"
	EventTypeHoldExpired = "escrow.hold_expired"

	SignatureHeader = "X-Webhook-Signature"
)

// WebhookNotifier posts signed escrow lifecycle events to the contract
// collaborator. Delivery is best-effort: errors are logged and dropped.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookEnvelope struct {
	EventID   string        `json:"event_id"`
	EventType string        `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	Data      holdEventData `json:"data"`
}

type holdEventData struct {
	EscrowID   string          `json:"escrow_id"`
	ContractID string          `json:"contract_id"`
	UserID     string          `json:"user_id"`
	AccountID  string          `json:"account_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

func (n *WebhookNotifier) HoldCreated(ctx context.Context, hold *domain.EscrowHold) {
	n.send(ctx, EventTypeHoldCreated, hold)
}

func (n *WebhookNotifier) HoldExpired(ctx context.Context, hold *domain.EscrowHold) {
	n.send(ctx, EventTypeHoldExpired, hold)
}

func (n *WebhookNotifier) send(ctx context.Context, eventType string, hold *domain.EscrowHold) {
	log := logging.FromContext(ctx)

	envelope := webhookEnvelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data: holdEventData{
			EscrowID:   hold.ID.String(),
			ContractID: hold.ContractID,
			UserID:     hold.UserID.String(),
			AccountID:  hold.AccountID.String(),
			Amount:     decimal.New(hold.Amount, -2),
			Currency:   string(hold.Currency),
			Status:     string(hold.Status),
			ExpiresAt:  hold.ExpiresAt,
		},
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		log.Error("failed to marshal escrow webhook", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		log.Error("failed to build escrow webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, n.secret))

	resp, err := n.client.Do(req)
	if err != nil {
		log.Error("escrow webhook delivery failed",
			"event_type", eventType, "escrow_id", hold.ID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Error("escrow webhook rejected",
			"event_type", eventType, "escrow_id", hold.ID, "status", resp.StatusCode)
		return
	}

	log.Info("escrow webhook delivered",
		"event_type", eventType, "escrow_id", hold.ID)
}

// Sign computes the hex HMAC-SHA256 of the payload under the pre-shared
// webhook secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the payload.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

// NopNotifier discards events; used in tests and offline tooling.
type NopNotifier struct{}

func (NopNotifier) HoldCreated(context.Context, *domain.EscrowHold) {}
func (NopNotifier) HoldExpired(context.Context, *domain.EscrowHold) {}

var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = NopNotifier{}
)
