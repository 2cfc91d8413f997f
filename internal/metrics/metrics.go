package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the caseflow Prometheus collectors. A nil *Metrics is
// safe to call; tests pass nil to avoid duplicate registration.
type Metrics struct {
	ClaimsTotal         prometheus.Counter
	ClaimConflictsTotal prometheus.Counter
	CasesTerminalTotal  *prometheus.CounterVec
	NotifyFailuresTotal prometheus.Counter
	ScoringFallbacks    prometheus.Counter
	ClaimsReclaimed     prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ClaimsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_claims_total",
			Help: "Total cases successfully claimed by reviewers",
		}),
		ClaimConflictsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_claim_conflicts_total",
			Help: "Conditional claim updates lost to a concurrent reviewer",
		}),
		CasesTerminalTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_cases_terminal_total",
			Help: "Cases reaching a terminal outcome",
		}, []string{"outcome"}),
		NotifyFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_notify_failures_total",
			Help: "Completion notifications that failed to publish",
		}),
		ScoringFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_scoring_fallbacks_total",
			Help: "Cases returned to the pool after an external scoring failure",
		}),
		ClaimsReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_claims_reclaimed_total",
			Help: "Stale claims released back to the pool by the reaper",
		}),
	}
}

func (m *Metrics) IncClaims(n int) {
	if m == nil {
		return
	}
	m.ClaimsTotal.Add(float64(n))
}

func (m *Metrics) IncClaimConflicts() {
	if m == nil {
		return
	}
	m.ClaimConflictsTotal.Inc()
}

func (m *Metrics) IncTerminal(outcome string) {
	if m == nil {
		return
	}
	m.CasesTerminalTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncNotifyFailures() {
	if m == nil {
		return
	}
	m.NotifyFailuresTotal.Inc()
}

func (m *Metrics) IncScoringFallbacks() {
	if m == nil {
		return
	}
	m.ScoringFallbacks.Inc()
}

func (m *Metrics) IncClaimsReclaimed() {
	if m == nil {
		return
	}
	m.ClaimsReclaimed.Inc()
}
