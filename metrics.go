package binder

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the freeze-wait latency histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
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

// Metrics tracks operational statistics for a Process.
type Metrics struct {
	// Node/handle table activity.
	NodesCreated   atomic.Uint64
	NodesDestroyed atomic.Uint64
	HandlesCreated atomic.Uint64
	HandlesFreed   atomic.Uint64

	// Death notifications.
	DeathsRequested atomic.Uint64
	DeathsDelivered atomic.Uint64
	DeathsCleared   atomic.Uint64

	// Freeze/thaw.
	FreezeRequests    atomic.Uint64
	FreezeGranted     atomic.Uint64
	FreezeDenied      atomic.Uint64
	FreezeInterrupted atomic.Uint64

	// Buffer arena.
	BufferBytesAllocated atomic.Uint64
	BufferBytesFreed     atomic.Uint64

	// Work dispatch.
	WorkDeliveredDirect atomic.Uint64 // handed straight to a waiting thread
	WorkQueued          atomic.Uint64 // queued for a future get_work call
	OnewayTransactions  atomic.Uint64

	// Freeze-wait latency.
	TotalFreezeWaitNs atomic.Uint64
	FreezeWaitCount   atomic.Uint64
	LatencyBuckets    [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordNodeCreated records that a new owned Node was created.
func (m *Metrics) RecordNodeCreated() { m.NodesCreated.Add(1) }

// RecordNodeDestroyed records that a Node was fully released.
func (m *Metrics) RecordNodeDestroyed() { m.NodesDestroyed.Add(1) }

// RecordHandleCreated records a new entry in the handle table.
func (m *Metrics) RecordHandleCreated() { m.HandlesCreated.Add(1) }

// RecordHandleFreed records an entry removed from the handle table.
func (m *Metrics) RecordHandleFreed() { m.HandlesFreed.Add(1) }

// RecordDeathRequested records request_death.
func (m *Metrics) RecordDeathRequested() { m.DeathsRequested.Add(1) }

// RecordDeathDelivered records a death notification actually delivered.
func (m *Metrics) RecordDeathDelivered() { m.DeathsDelivered.Add(1) }

// RecordDeathCleared records clear_death.
func (m *Metrics) RecordDeathCleared() { m.DeathsCleared.Add(1) }

// RecordFreezeOutcome records the result of a freeze attempt plus how long
// the calling thread blocked in the freeze wait.
func (m *Metrics) RecordFreezeOutcome(granted, interrupted bool, waitNs uint64) {
	m.FreezeRequests.Add(1)
	switch {
	case interrupted:
		m.FreezeInterrupted.Add(1)
	case granted:
		m.FreezeGranted.Add(1)
	default:
		m.FreezeDenied.Add(1)
	}
	m.recordFreezeWaitLatency(waitNs)
}

func (m *Metrics) recordFreezeWaitLatency(latencyNs uint64) {
	m.TotalFreezeWaitNs.Add(latencyNs)
	m.FreezeWaitCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordBufferAlloc records a successful buffer_alloc.
func (m *Metrics) RecordBufferAlloc(bytes uint64) { m.BufferBytesAllocated.Add(bytes) }

// RecordBufferFree records a buffer_raw_free.
func (m *Metrics) RecordBufferFree(bytes uint64) { m.BufferBytesFreed.Add(bytes) }

// RecordWorkDelivered records a push_work outcome: delivered straight to a
// waiting thread, or queued for later pickup.
func (m *Metrics) RecordWorkDelivered(direct bool) {
	if direct {
		m.WorkDeliveredDirect.Add(1)
	} else {
		m.WorkQueued.Add(1)
	}
}

// RecordOnewayTransaction records an async (oneway) transaction observed
// by the spam-detection path.
func (m *Metrics) RecordOnewayTransaction() { m.OnewayTransactions.Add(1) }

// Stop marks the process as stopped.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	NodesCreated, NodesDestroyed     uint64
	HandlesCreated, HandlesFreed     uint64
	DeathsRequested, DeathsDelivered uint64
	DeathsCleared                    uint64
	FreezeRequests, FreezeGranted    uint64
	FreezeDenied, FreezeInterrupted  uint64
	BufferBytesAllocated             uint64
	BufferBytesFreed                 uint64
	WorkDeliveredDirect, WorkQueued  uint64
	OnewayTransactions               uint64

	AvgFreezeWaitNs uint64
	FreezeWaitP50Ns uint64
	FreezeWaitP99Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
	UptimeNs         uint64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		NodesCreated:         m.NodesCreated.Load(),
		NodesDestroyed:       m.NodesDestroyed.Load(),
		HandlesCreated:       m.HandlesCreated.Load(),
		HandlesFreed:         m.HandlesFreed.Load(),
		DeathsRequested:      m.DeathsRequested.Load(),
		DeathsDelivered:      m.DeathsDelivered.Load(),
		DeathsCleared:        m.DeathsCleared.Load(),
		FreezeRequests:       m.FreezeRequests.Load(),
		FreezeGranted:        m.FreezeGranted.Load(),
		FreezeDenied:         m.FreezeDenied.Load(),
		FreezeInterrupted:    m.FreezeInterrupted.Load(),
		BufferBytesAllocated: m.BufferBytesAllocated.Load(),
		BufferBytesFreed:     m.BufferBytesFreed.Load(),
		WorkDeliveredDirect:  m.WorkDeliveredDirect.Load(),
		WorkQueued:           m.WorkQueued.Load(),
		OnewayTransactions:   m.OnewayTransactions.Load(),
	}

	total := m.TotalFreezeWaitNs.Load()
	count := m.FreezeWaitCount.Load()
	if count > 0 {
		snap.AvgFreezeWaitNs = total / count
		snap.FreezeWaitP50Ns = m.calculatePercentile(0.50)
		snap.FreezeWaitP99Ns = m.calculatePercentile(0.99)
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.FreezeWaitCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable metrics collection.
type Observer interface {
	ObserveNodeCreated()
	ObserveHandleCreated()
	ObserveDeathDelivered()
	ObserveFreezeOutcome(granted, interrupted bool, waitNs uint64)
	ObserveBufferAlloc(bytes uint64)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveNodeCreated()   {}
func (NoOpObserver) ObserveHandleCreated() {}
func (NoOpObserver) ObserveDeathDelivered() {}
func (NoOpObserver) ObserveFreezeOutcome(bool, bool, uint64) {}
func (NoOpObserver) ObserveBufferAlloc(uint64) {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{metrics: m} }

func (o *MetricsObserver) ObserveNodeCreated()   { o.metrics.RecordNodeCreated() }
func (o *MetricsObserver) ObserveHandleCreated() { o.metrics.RecordHandleCreated() }
func (o *MetricsObserver) ObserveDeathDelivered() { o.metrics.RecordDeathDelivered() }
func (o *MetricsObserver) ObserveFreezeOutcome(granted, interrupted bool, waitNs uint64) {
	o.metrics.RecordFreezeOutcome(granted, interrupted, waitNs)
}
func (o *MetricsObserver) ObserveBufferAlloc(bytes uint64) { o.metrics.RecordBufferAlloc(bytes) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
