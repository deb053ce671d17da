package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_mutations_total",
		Help: "Balance mutations committed, by ledger entry type.",
	}, []string{"entry_type"})

	Authorizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "card_authorizations_total",
		Help: "Authorization attempts by outcome (approved or decline reason).",
	}, []string{"outcome"})

	EscrowSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_sweep_runs_total",
		Help: "Expired-hold sweep runs.",
	})

	EscrowExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_holds_expired_total",
		Help: "Escrow holds transitioned to expired by the sweeper.",
	})

	P2PReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_idempotent_replays_total",
		Help: "P2P requests answered from an existing transfer record.",
	}, []string{"direction"})
)
