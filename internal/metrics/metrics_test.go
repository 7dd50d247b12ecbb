package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/ocx/aec/internal/healing"
	"github.com/ocx/aec/internal/reaper"
	"github.com/ocx/aec/internal/workflow"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	m := &dto.Metric{}
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	if err := (<-ch).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestObserveHealing_RecordsAttemptAndOutcome(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.ObserveHealing(healing.Event{Kind: "healing:success", Domain: healing.DomainUI, Duration: 50 * time.Millisecond})

	if got := counterValue(t, c.HealAttempts.WithLabelValues("UI")); got != 1 {
		t.Fatalf("HealAttempts = %v, want 1", got)
	}
	if got := counterValue(t, c.HealOutcomes.WithLabelValues("UI", "success")); got != 1 {
		t.Fatalf("HealOutcomes(success) = %v, want 1", got)
	}
}

func TestObserveWorkflow_RecordsFailureReason(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.ObserveWorkflow(workflow.Event{Stage: workflow.StageFailed, Reason: "CONSENSUS_VETO"})

	if got := counterValue(t, c.WorkflowStage.WithLabelValues(string(workflow.StageFailed))); got != 1 {
		t.Fatalf("WorkflowStage(FAILED) = %v, want 1", got)
	}
	if got := counterValue(t, c.WorkflowFailures.WithLabelValues("CONSENSUS_VETO")); got != 1 {
		t.Fatalf("WorkflowFailures(CONSENSUS_VETO) = %v, want 1", got)
	}
}

func TestObserveReap_AccumulatesAcrossCalls(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.ObserveReap(reaper.Report{Scanned: 3, Marked: 1, Archived: 1, Preserved: 2, BytesSaved: 128})
	c.ObserveReap(reaper.Report{Scanned: 2, Marked: 0, Preserved: 2})

	if got := counterValue(t, c.ReaperScanned); got != 5 {
		t.Fatalf("ReaperScanned = %v, want 5", got)
	}
	if got := counterValue(t, c.ReaperBytesSaved); got != 128 {
		t.Fatalf("ReaperBytesSaved = %v, want 128", got)
	}

	c.SetReaperCycle(42)
	if got := counterValue(t, c.ReaperCycle); got != 42 {
		t.Fatalf("ReaperCycle = %v, want 42", got)
	}
}
