// contract-sim stands in for the external contract-management system in
// local development: it receives escrow webhooks and verifies their
// signatures.
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/meridianbank/ledger-core/internal/logging"
	"github.com/meridianbank/ledger-core/internal/service/escrow"
)

func main() {
	logging.Init("contract-sim", "info", os.Getenv("APP_ENV"))

	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		slog.Error("WEBHOOK_SECRET is required")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})
	mux.HandleFunc("POST /webhooks/escrow", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		sig := r.Header.Get(escrow.SignatureHeader)
		if !escrow.VerifySignature(body, sig, secret) {
			slog.Warn("webhook signature verification failed")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var envelope struct {
			EventID   string          `json:"event_id"`
			EventType string          `json:"event_type"`
			Data      json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		slog.Info("escrow event received",
			"event_id", envelope.EventID, "event_type", envelope.EventType)
		w.WriteHeader(http.StatusOK)
	})

	slog.Info("contract sim started", "addr", ":8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
