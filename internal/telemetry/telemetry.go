// Package telemetry exposes Prometheus metrics for strategy runs.
//
// All methods are nil-safe so the engine can record unconditionally.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/bitstrat/internal/ir"
)

// Telemetry holds the run, step and script metrics.
type Telemetry struct {
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	Replans     prometheus.Counter

	Steps       *prometheus.CounterVec
	BudgetSpent *prometheus.CounterVec

	ScriptInvocations *prometheus.CounterVec
	ScriptDuration    *prometheus.HistogramVec

	Verifications *prometheus.CounterVec
}

// New creates the metrics and registers them with registry.
func New(registry prometheus.Registerer) *Telemetry {
	factory := promauto.With(registry)

	return &Telemetry{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitstrat_runs_total",
				Help: "Total number of strategy runs by final status",
			},
			[]string{"status", "stop_reason"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitstrat_run_duration_seconds",
				Help:    "Strategy run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		Replans: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bitstrat_replans_total",
				Help: "Total number of budget-exhausted re-plans",
			},
		),
		Steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitstrat_steps_total",
				Help: "Total number of recorded steps by status",
			},
			[]string{"status"},
		),
		BudgetSpent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitstrat_budget_spent_total",
				Help: "Budget deducted by committed steps",
			},
			[]string{"operation"},
		),
		ScriptInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitstrat_script_invocations_total",
				Help: "Total number of script invocations by role and outcome",
			},
			[]string{"role", "outcome"},
		),
		ScriptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitstrat_script_duration_seconds",
				Help:    "Script invocation latency in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"role"},
		),
		Verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitstrat_verifications_total",
				Help: "Total number of verifications by mode and outcome",
			},
			[]string{"mode", "verified"},
		),
	}
}

// NewRegistry creates a fresh registry with the metrics registered.
func NewRegistry() (*prometheus.Registry, *Telemetry) {
	reg := prometheus.NewRegistry()
	return reg, New(reg)
}

// Script outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeDecline = "decline"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// RecordScript records one script invocation.
func (t *Telemetry) RecordScript(role ir.Role, outcome string, d time.Duration) {
	if t == nil {
		return
	}
	t.ScriptInvocations.WithLabelValues(string(role), outcome).Inc()
	t.ScriptDuration.WithLabelValues(string(role)).Observe(d.Seconds())
}

// RecordStep records one recorded step and, when committed, its cost.
func (t *Telemetry) RecordStep(s ir.TransformationStep) {
	if t == nil {
		return
	}
	t.Steps.WithLabelValues(string(s.Status)).Inc()
	if s.Committed() {
		t.BudgetSpent.WithLabelValues(s.Operation).Add(s.Cost)
	}
}

// RecordReplan records a budget-exhausted re-plan.
func (t *Telemetry) RecordReplan() {
	if t == nil {
		return
	}
	t.Replans.Inc()
}

// RecordRun records a finalized result.
func (t *Telemetry) RecordRun(res *ir.ExecutionResult) {
	if t == nil || res == nil {
		return
	}
	t.Runs.WithLabelValues(string(res.Status), string(res.StopReason)).Inc()
	t.RunDuration.WithLabelValues(string(res.Status)).Observe(res.Duration().Seconds())
	if res.Verification != nil {
		t.RecordVerification(*res.Verification)
	}
}

// RecordVerification records one verification report.
func (t *Telemetry) RecordVerification(r ir.VerificationReport) {
	if t == nil {
		return
	}
	t.Verifications.WithLabelValues(string(r.Mode), strconv.FormatBool(r.Verified)).Inc()
}

// WriteTextfile writes every metric in g to path in the Prometheus text
// format, for node-exporter style collection of one-shot CLI runs.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
