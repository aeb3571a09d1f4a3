package npu31

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks driver-wide operational statistics: device-memory
// allocation, chain scheduling, completion polling, and replay/relocation.
type Metrics struct {
	// Operation counters
	AllocOps    atomic.Uint64 // Malloc calls
	ScheduleOps atomic.Uint64 // chains submitted to a device
	PollOps     atomic.Uint64 // PollStatus calls
	RelocateOps atomic.Uint64 // Replay calls

	// Byte counters
	AllocBytes atomic.Uint64 // total bytes allocated across all buffers

	// Error counters
	AllocErrors    atomic.Uint64
	ScheduleErrors atomic.Uint64
	PollErrors     atomic.Uint64
	RelocateErrors atomic.Uint64

	// Command-pool depth statistics
	PoolDepthTotal atomic.Uint64 // cumulative depth samples
	PoolDepthCount atomic.Uint64 // number of depth measurements
	MaxPoolDepth   atomic.Uint32 // maximum observed depth

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // cumulative operation latency in nanoseconds
	OpCount        atomic.Uint64 // total timed operations

	// Latency histogram buckets (cumulative counts).
	// Each bucket[i] contains the count of operations with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Driver lifecycle
	StartTime atomic.Int64 // driver start timestamp (UnixNano)
	StopTime  atomic.Int64 // driver stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance with StartTime stamped now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAlloc records a device-memory allocation.
func (m *Metrics) RecordAlloc(bytes uint64, latencyNs uint64, success bool) {
	m.AllocOps.Add(1)
	if success {
		m.AllocBytes.Add(bytes)
	} else {
		m.AllocErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordSchedule records a chain submission to a device back end.
func (m *Metrics) RecordSchedule(latencyNs uint64, success bool) {
	m.ScheduleOps.Add(1)
	if !success {
		m.ScheduleErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordPoll records a completion-status poll.
func (m *Metrics) RecordPoll(latencyNs uint64, success bool) {
	m.PollOps.Add(1)
	if !success {
		m.PollErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRelocate records a job replay.
func (m *Metrics) RecordRelocate(latencyNs uint64, success bool) {
	m.RelocateOps.Add(1)
	if !success {
		m.RelocateErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordPoolDepth records the current command-pool occupancy.
func (m *Metrics) RecordPoolDepth(depth uint32) {
	m.PoolDepthTotal.Add(uint64(depth))
	m.PoolDepthCount.Add(1)

	for {
		current := m.MaxPoolDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxPoolDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// recordLatency records operation latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the driver as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics with derived
// rates and percentiles computed.
type MetricsSnapshot struct {
	AllocOps    uint64
	ScheduleOps uint64
	PollOps     uint64
	RelocateOps uint64

	AllocBytes uint64

	AllocErrors    uint64
	ScheduleErrors uint64
	PollErrors     uint64
	RelocateErrors uint64

	AvgPoolDepth float64
	MaxPoolDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ScheduleRate float64 // chains submitted per second
	AllocRate    float64 // bytes allocated per second
	TotalOps     uint64
	ErrorRate    float64 // percentage of failed operations
}

// Snapshot creates a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		AllocOps:       m.AllocOps.Load(),
		ScheduleOps:    m.ScheduleOps.Load(),
		PollOps:        m.PollOps.Load(),
		RelocateOps:    m.RelocateOps.Load(),
		AllocBytes:     m.AllocBytes.Load(),
		AllocErrors:    m.AllocErrors.Load(),
		ScheduleErrors: m.ScheduleErrors.Load(),
		PollErrors:     m.PollErrors.Load(),
		RelocateErrors: m.RelocateErrors.Load(),
		MaxPoolDepth:   m.MaxPoolDepth.Load(),
	}

	snap.TotalOps = snap.AllocOps + snap.ScheduleOps + snap.PollOps + snap.RelocateOps

	poolDepthTotal := m.PoolDepthTotal.Load()
	poolDepthCount := m.PoolDepthCount.Load()
	if poolDepthCount > 0 {
		snap.AvgPoolDepth = float64(poolDepthTotal) / float64(poolDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ScheduleRate = float64(snap.ScheduleOps) / uptimeSeconds
		snap.AllocRate = float64(snap.AllocBytes) / uptimeSeconds
	}

	totalErrors := snap.AllocErrors + snap.ScheduleErrors + snap.PollErrors + snap.RelocateErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes every counter (restarts StartTime). Useful between test runs.
func (m *Metrics) Reset() {
	m.AllocOps.Store(0)
	m.ScheduleOps.Store(0)
	m.PollOps.Store(0)
	m.RelocateOps.Store(0)
	m.AllocBytes.Store(0)
	m.AllocErrors.Store(0)
	m.ScheduleErrors.Store(0)
	m.PollErrors.Store(0)
	m.RelocateErrors.Store(0)
	m.PoolDepthTotal.Store(0)
	m.PoolDepthCount.Store(0)
	m.MaxPoolDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection at each driver lifecycle
// point, independent of the Metrics/MetricsSnapshot implementation.
type Observer interface {
	ObserveAlloc(bytes uint64, latencyNs uint64, success bool)
	ObserveSchedule(latencyNs uint64, success bool)
	ObservePoll(latencyNs uint64, success bool)
	ObserveRelocate(latencyNs uint64, success bool)
	ObservePoolDepth(depth uint32)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAlloc(uint64, uint64, bool) {}
func (NoOpObserver) ObserveSchedule(uint64, bool)      {}
func (NoOpObserver) ObservePoll(uint64, bool)          {}
func (NoOpObserver) ObserveRelocate(uint64, bool)      {}
func (NoOpObserver) ObservePoolDepth(uint32)           {}

// MetricsObserver implements Observer on top of a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveAlloc(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordAlloc(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveSchedule(latencyNs uint64, success bool) {
	o.metrics.RecordSchedule(latencyNs, success)
}

func (o *MetricsObserver) ObservePoll(latencyNs uint64, success bool) {
	o.metrics.RecordPoll(latencyNs, success)
}

func (o *MetricsObserver) ObserveRelocate(latencyNs uint64, success bool) {
	o.metrics.RecordRelocate(latencyNs, success)
}

func (o *MetricsObserver) ObservePoolDepth(depth uint32) {
	o.metrics.RecordPoolDepth(depth)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
