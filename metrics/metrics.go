// Package metrics registers the engine's Prometheus instruments.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_events_processed_total", Help: "Normalized events run through the engine",
	}, []string{"kind"})
	Violations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_violations_total", Help: "Rule violations raised",
	}, []string{"rule"})
	EnforcementActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_enforcement_actions_total", Help: "Enforcement actions by outcome",
	}, []string{"action", "status"})
	RuleErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_rule_errors_total", Help: "Rules skipped for an event (missing fields, unknown instrument, internal error)",
	}, []string{"rule"})
	LockoutState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "risk_lockout_state", Help: "0=unlocked, 1=cooldown, 2=hard_lockout",
	})
	GuardSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "risk_guard_suppressed_total", Help: "Enforcement attempts blocked by the in-flight/cooldown guard",
	})
)

func init() {
	prometheus.MustRegister(
		EventsProcessed, Violations, EnforcementActions,
		RuleErrors, LockoutState, GuardSuppressed,
	)
}
