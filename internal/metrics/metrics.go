// Package metrics registers the Prometheus collectors the core's three
// event-emitting components (the healing dispatcher, the evolution
// workflow, the entropy reaper) feed on every state change. Grounded on
// internal/escrow/metrics.go: one struct holding every collector, a
// constructor that registers them all through promauto, and small
// Observe*/Set* methods the rest of the core calls into. There is no
// HTTP exposition endpoint here deliberately — that belongs to a
// front-end, out of scope for this core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ocx/aec/internal/healing"
	"github.com/ocx/aec/internal/reaper"
	"github.com/ocx/aec/internal/workflow"
)

// Collectors holds every Prometheus metric the core registers.
type Collectors struct {
	HealAttempts *prometheus.CounterVec
	HealOutcomes *prometheus.CounterVec
	HealDuration *prometheus.HistogramVec

	WorkflowStage    *prometheus.CounterVec
	WorkflowFailures *prometheus.CounterVec

	ReaperScanned    prometheus.Counter
	ReaperMarked     prometheus.Counter
	ReaperArchived   prometheus.Counter
	ReaperPreserved  prometheus.Counter
	ReaperBytesSaved prometheus.Counter
	ReaperCycle      prometheus.Gauge
}

// New registers and returns the core's collector set against reg. Pass
// prometheus.DefaultRegisterer in production; tests pass a fresh
// prometheus.NewRegistry() so repeated construction within one test
// binary doesn't collide on already-registered collector names.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		HealAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aec_heal_attempts_total",
				Help: "Total healing attempts by domain",
			},
			[]string{"domain"},
		),
		HealOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aec_heal_outcomes_total",
				Help: "Healing attempt outcomes by domain and result",
			},
			[]string{"domain", "result"}, // result: success, failure
		),
		HealDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aec_heal_duration_seconds",
				Help:    "Duration of a healing dispatch attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"domain"},
		),
		WorkflowStage: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aec_workflow_stage_transitions_total",
				Help: "Evolution workflow stage transitions",
			},
			[]string{"stage"},
		),
		WorkflowFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aec_workflow_failures_total",
				Help: "Evolution workflow failures by reason",
			},
			[]string{"reason"},
		),
		ReaperScanned: f.NewCounter(prometheus.CounterOpts{
			Name: "aec_reaper_scanned_total",
			Help: "Entities examined across all reap() scans",
		}),
		ReaperMarked: f.NewCounter(prometheus.CounterOpts{
			Name: "aec_reaper_marked_total",
			Help: "Entities marked for reclamation across all reap() scans",
		}),
		ReaperArchived: f.NewCounter(prometheus.CounterOpts{
			Name: "aec_reaper_archived_total",
			Help: "Entities actually archived across all reap() scans",
		}),
		ReaperPreserved: f.NewCounter(prometheus.CounterOpts{
			Name: "aec_reaper_preserved_total",
			Help: "Entities preserved (protected or still depended on) across all reap() scans",
		}),
		ReaperBytesSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "aec_reaper_bytes_saved_total",
			Help: "Bytes moved out of the live tree across all reap() scans",
		}),
		ReaperCycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "aec_reaper_cycle",
			Help: "Current reaper vitality cycle counter",
		}),
	}
}

// ObserveHealing is a healing.Event callback wiring Dispatcher
// events into the collector set; pass as healing.Config.OnEvent.
func (c *Collectors) ObserveHealing(ev healing.Event) {
	domain := string(ev.Domain)
	c.HealAttempts.WithLabelValues(domain).Inc()
	c.HealDuration.WithLabelValues(domain).Observe(ev.Duration.Seconds())
	result := "failure"
	if ev.Kind == "healing:success" {
		result = "success"
	}
	c.HealOutcomes.WithLabelValues(domain, result).Inc()
}

// ObserveWorkflow is a workflow.Event callback; pass as
// workflow.Config.OnEvent.
func (c *Collectors) ObserveWorkflow(ev workflow.Event) {
	c.WorkflowStage.WithLabelValues(string(ev.Stage)).Inc()
	if ev.Stage == workflow.StageFailed && ev.Reason != "" {
		c.WorkflowFailures.WithLabelValues(string(ev.Reason)).Inc()
	}
}

// ObserveReap folds a reap() report into the cumulative counters.
func (c *Collectors) ObserveReap(report reaper.Report) {
	c.ReaperScanned.Add(float64(report.Scanned))
	c.ReaperMarked.Add(float64(report.Marked))
	c.ReaperArchived.Add(float64(report.Archived))
	c.ReaperPreserved.Add(float64(report.Preserved))
	c.ReaperBytesSaved.Add(float64(report.BytesSaved))
}

// SetReaperCycle records the reaper's current cycle counter as a gauge.
func (c *Collectors) SetReaperCycle(cycle int64) {
	c.ReaperCycle.Set(float64(cycle))
}
