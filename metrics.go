package tsnego

import (
	"math"
	"sync/atomic"
	"time"
)

// MetricsObserver receives engine events.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsObserver interface {
	// OnCalibration is called after the affinities were computed.
	OnCalibration(duration time.Duration, points, unconverged int, precision float64)

	// OnIteration is called after every gradient descent iteration.
	OnIteration(iteration int, duration time.Duration)

	// OnDivergence is called with every KL divergence estimate.
	OnDivergence(d Divergence)

	// OnRefinement is called after a row was refined in the background.
	OnRefinement(point int)

	// OnQueueDepth reports the depth of a background queue.
	OnQueueDepth(name string, depth int)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnCalibration(time.Duration, int, int, float64) {}
func (NoopMetricsObserver) OnIteration(int, time.Duration)                 {}
func (NoopMetricsObserver) OnDivergence(Divergence)                        {}
func (NoopMetricsObserver) OnRefinement(int)                               {}
func (NoopMetricsObserver) OnQueueDepth(string, int)                       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	Calibrations        atomic.Int64
	CalibrationNanos    atomic.Int64
	Unconverged         atomic.Int64
	Iterations          atomic.Int64
	IterationTotalNanos atomic.Int64
	Divergences         atomic.Int64
	LastDivergenceBits  atomic.Uint64
	RefinedRows         atomic.Int64
	QueueDepth          atomic.Int64
}

// OnCalibration implements MetricsObserver.
func (b *BasicMetricsCollector) OnCalibration(duration time.Duration, points, unconverged int, precision float64) {
	b.Calibrations.Add(1)
	b.CalibrationNanos.Add(duration.Nanoseconds())
	b.Unconverged.Add(int64(unconverged))
}

// OnIteration implements MetricsObserver.
func (b *BasicMetricsCollector) OnIteration(iteration int, duration time.Duration) {
	b.Iterations.Add(1)
	b.IterationTotalNanos.Add(duration.Nanoseconds())
}

// OnDivergence implements MetricsObserver.
func (b *BasicMetricsCollector) OnDivergence(d Divergence) {
	b.Divergences.Add(1)
	b.LastDivergenceBits.Store(math.Float64bits(d.Total))
}

// OnRefinement implements MetricsObserver.
func (b *BasicMetricsCollector) OnRefinement(int) {
	b.RefinedRows.Add(1)
}

// OnQueueDepth implements MetricsObserver.
func (b *BasicMetricsCollector) OnQueueDepth(_ string, depth int) {
	b.QueueDepth.Store(int64(depth))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		Calibrations:      b.Calibrations.Load(),
		CalibrationNanos:  b.CalibrationNanos.Load(),
		Unconverged:       b.Unconverged.Load(),
		Iterations:        b.Iterations.Load(),
		IterationAvgNanos: b.getAvgIterationNanos(),
		Divergences:       b.Divergences.Load(),
		LastDivergence:    math.Float64frombits(b.LastDivergenceBits.Load()),
		RefinedRows:       b.RefinedRows.Load(),
		QueueDepth:        b.QueueDepth.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgIterationNanos() int64 {
	count := b.Iterations.Load()
	if count == 0 {
		return 0
	}
	return b.IterationTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	Calibrations      int64
	CalibrationNanos  int64
	Unconverged       int64
	Iterations        int64
	IterationAvgNanos int64
	Divergences       int64
	LastDivergence    float64
	RefinedRows       int64
	QueueDepth        int64
}
