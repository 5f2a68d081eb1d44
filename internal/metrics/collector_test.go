package meshmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	meshmetrics "github.com/flximg/meshnode/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := meshmetrics.NewCollector(reg)

	if c.FramesProcessedTotal == nil {
		t.Error("FramesProcessedTotal is nil")
	}
	if c.FramesDroppedTotal == nil {
		t.Error("FramesDroppedTotal is nil")
	}
	if c.RoutesLearnedTotal == nil {
		t.Error("RoutesLearnedTotal is nil")
	}
	if c.SigningSucceededTotal == nil {
		t.Error("SigningSucceededTotal is nil")
	}
	if c.SigningFailedTotal == nil {
		t.Error("SigningFailedTotal is nil")
	}
	if c.OTABlocksReceivedTotal == nil {
		t.Error("OTABlocksReceivedTotal is nil")
	}
	if c.OTACompletedTotal == nil {
		t.Error("OTACompletedTotal is nil")
	}
	if c.OTAAbortedTotal == nil {
		t.Error("OTAAbortedTotal is nil")
	}
	if c.DiscoveryRunsTotal == nil {
		t.Error("DiscoveryRunsTotal is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestFramesProcessedAndDropped(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := meshmetrics.NewCollector(reg)

	c.FramesProcessed()
	c.FramesProcessed()
	c.FramesDropped("malformed")
	c.FramesDropped("malformed")
	c.FramesDropped("bad-signature")

	if got := counterValue(t, c.FramesProcessedTotal); got != 2 {
		t.Errorf("FramesProcessedTotal = %v, want 2", got)
	}
	if got := vecCounterValue(t, c.FramesDroppedTotal, "malformed"); got != 2 {
		t.Errorf("FramesDroppedTotal{reason=malformed} = %v, want 2", got)
	}
	if got := vecCounterValue(t, c.FramesDroppedTotal, "bad-signature"); got != 1 {
		t.Errorf("FramesDroppedTotal{reason=bad-signature} = %v, want 1", got)
	}
}

func TestSigningOutcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := meshmetrics.NewCollector(reg)

	c.SigningSucceeded()
	c.SigningFailed()
	c.SigningFailed()

	if got := counterValue(t, c.SigningSucceededTotal); got != 1 {
		t.Errorf("SigningSucceededTotal = %v, want 1", got)
	}
	if got := counterValue(t, c.SigningFailedTotal); got != 2 {
		t.Errorf("SigningFailedTotal = %v, want 2", got)
	}
}

func TestOTALifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := meshmetrics.NewCollector(reg)

	c.OTABlockReceived()
	c.OTABlockReceived()
	c.OTABlockReceived()
	c.OTACompleted()

	if got := counterValue(t, c.OTABlocksReceivedTotal); got != 3 {
		t.Errorf("OTABlocksReceivedTotal = %v, want 3", got)
	}
	if got := counterValue(t, c.OTACompletedTotal); got != 1 {
		t.Errorf("OTACompletedTotal = %v, want 1", got)
	}
	if got := counterValue(t, c.OTAAbortedTotal); got != 0 {
		t.Errorf("OTAAbortedTotal = %v, want 0", got)
	}

	c.OTAAborted()
	if got := counterValue(t, c.OTAAbortedTotal); got != 1 {
		t.Errorf("OTAAbortedTotal = %v, want 1", got)
	}
}

func TestDiscoveryRuns(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := meshmetrics.NewCollector(reg)

	c.DiscoveryRun()
	c.DiscoveryRun()
	c.DiscoveryRun()

	if got := counterValue(t, c.DiscoveryRunsTotal); got != 3 {
		t.Errorf("DiscoveryRunsTotal = %v, want 3", got)
	}
}

func TestRouteLearned(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := meshmetrics.NewCollector(reg)

	c.RouteLearned()

	if got := counterValue(t, c.RoutesLearnedTotal); got != 1 {
		t.Errorf("RoutesLearnedTotal = %v, want 1", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func vecCounterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
