package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridianbank/ledger-core/internal/metrics"
)

// Sweeper periodically runs the expired-hold sweep until the context is
// cancelled.
type Sweeper struct {
	engine   *Engine
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeper(engine *Engine, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{engine: engine, logger: logger, interval: interval}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("escrow sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("escrow sweeper stopped")
			return
		case <-ticker.C:
			metrics.EscrowSweeps.Inc()
			if _, err := s.engine.ProcessExpiredHolds(ctx); err != nil {
				s.logger.Error("expired-hold sweep failed", "error", err)
			}
		}
	}
}
