package binder

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/kbinder/go-binder/internal/logging"
)

// testContextCounter hands out unique context names for NewTestContext, so
// concurrent tests never collide in the package-level context registry.
var testContextCounter atomic.Uint64

// NewTestContext registers and returns a fresh, uniquely named Context,
// the Go-idiomatic stand-in for spinning up a throwaway /dev/binder node
// per test rather than sharing the process-wide registry.
func NewTestContext(namePrefix string) *Context {
	n := testContextCounter.Add(1)
	return RegisterContext(namePrefix + "-" + itoa(n))
}

// NewTestProcess creates a Process inside a fresh test Context with a
// small default thread ceiling, a buffer-backed logger, and its own
// Metrics instance -- enough scaffolding for a test to exercise node
// creation, handle tables, and freeze/thaw without touching any shared
// state another test might also be using.
func NewTestProcess(pid int32) (*Process, *Metrics) {
	ctx := NewTestContext("test")
	metrics := NewMetrics()
	cfg := ProcessConfig{
		MaxThreads: 4,
		Logger:     logging.NewLogger(&logging.Config{Level: logging.LevelDebug, Output: new(bytes.Buffer)}),
		Metrics:    metrics,
	}
	return NewProcess(ctx, pid, cfg), metrics
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// RecordingObserver is a call-counting Observer implementation for tests
// that want to assert a code path fired the right observation without
// reaching into Metrics' atomic counters directly, mirroring the
// teacher's MockBackend call-tracking pattern.
type RecordingObserver struct {
	mu sync.RWMutex

	NodeCreatedCalls   int
	HandleCreatedCalls int
	DeathDeliveredCalls int
	FreezeOutcomeCalls int
	BufferAllocCalls   int

	LastFreezeGranted     bool
	LastFreezeInterrupted bool
	LastFreezeWaitNs      uint64
	LastBufferAllocBytes  uint64
}

func (r *RecordingObserver) ObserveNodeCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.NodeCreatedCalls++
}

func (r *RecordingObserver) ObserveHandleCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HandleCreatedCalls++
}

func (r *RecordingObserver) ObserveDeathDelivered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DeathDeliveredCalls++
}

func (r *RecordingObserver) ObserveFreezeOutcome(granted, interrupted bool, waitNs uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FreezeOutcomeCalls++
	r.LastFreezeGranted = granted
	r.LastFreezeInterrupted = interrupted
	r.LastFreezeWaitNs = waitNs
}

func (r *RecordingObserver) ObserveBufferAlloc(bytes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BufferAllocCalls++
	r.LastBufferAllocBytes = bytes
}

var _ Observer = (*RecordingObserver)(nil)
