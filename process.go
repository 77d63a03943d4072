package binder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kbinder/go-binder/internal/constants"
	"github.com/kbinder/go-binder/internal/dlist"
	"github.com/kbinder/go-binder/internal/logging"
	"github.com/kbinder/go-binder/internal/pagerange"
	"github.com/kbinder/go-binder/internal/rangealloc"
	"github.com/kbinder/go-binder/internal/uapi"
)

// Deferred work bitmask, matching PROC_DEFER_FLUSH/PROC_DEFER_RELEASE.
const (
	deferFlush   uint32 = 1 << 0
	deferRelease uint32 = 1 << 1
)

// Mapping is the transaction buffer arena established by mmap(2): a fixed
// byte range backed on demand by pagerange.Range and carved up by
// rangealloc.Arena.
type Mapping struct {
	pages *pagerange.Range
	arena *rangealloc.Arena
	size  int
}

// ProcessInner holds the state that must change atomically together under
// a single lock, matching process.rs's ProcessInner (nested inside
// Process's own lock in the documented lock order: Context.inner ->
// Process.node_refs -> Process.inner -> Node.owner.inner).
type ProcessInner struct {
	mu sync.Mutex

	threads map[int32]*Thread

	readyThreads *dlist.List[*Thread]
	work         *dlist.List[DeliverToRead]

	nodes map[uint64]*Node // owned nodes, keyed by ptr

	isDead bool

	isFrozen  bool
	syncRecv  bool
	asyncRecv bool
	freezeCond *sync.Cond

	maxThreads       uint32
	requestedThreads uint32

	onewaySpamEnabled bool
}

// Process is the per-open-file-descriptor Binder state: thread pool,
// owned nodes, handle table, allocation arena, and pending work.
type Process struct {
	PID int32
	Ctx *Context

	NodeRefs *ProcessNodeRefs
	inner    *ProcessInner

	mappingMu sync.Mutex
	mapping   *Mapping

	metrics *Metrics
	logger  *logging.Logger

	isManager bool

	goCtx  context.Context
	cancel context.CancelFunc

	deferMu     sync.Mutex
	deferFlags  uint32
	deferSignal chan struct{}
	releaseOnce sync.Once
	releaseDone chan struct{}

	nextThreadID int32
}

// NewProcess opens a new Process within ctx for pid, the Go-idiomatic
// equivalent of the driver's file_operations.open. A Process starts with
// no threads registered and no mapping established; callers register
// threads with RegisterThread and establish the buffer arena with Mmap,
// exactly as userspace would via further ioctls/mmap(2) after open(2).
func NewProcess(ctx *Context, pid int32, cfg ProcessConfig) *Process {
	if cfg.MaxThreads == 0 {
		cfg.MaxThreads = constants.DefaultMaxThreads
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	inner := &ProcessInner{
		threads:      make(map[int32]*Thread),
		readyThreads: dlist.New[*Thread](),
		work:         dlist.New[DeliverToRead](),
		nodes:        make(map[uint64]*Node),
		maxThreads:   cfg.MaxThreads,
	}
	inner.freezeCond = sync.NewCond(&inner.mu)

	p := &Process{
		PID:         pid,
		Ctx:         ctx,
		NodeRefs:    NewProcessNodeRefs(constants.FirstOrdinaryHandle),
		inner:       inner,
		metrics:     metrics,
		logger:      logger,
		deferSignal: make(chan struct{}, 1),
		releaseDone: make(chan struct{}),
	}
	p.goCtx, p.cancel = context.WithCancel(context.Background())
	ctx.registerProcess(p)
	go p.deferredWorker()
	return p
}

// deferredWorker is the background goroutine that drains deferred work,
// the userspace stand-in for the kernel's system workqueue. It exits once
// goCtx is cancelled, which deferredRelease does as its very last step.
func (p *Process) deferredWorker() {
	for {
		select {
		case <-p.goCtx.Done():
			return
		case <-p.deferSignal:
		}

		p.deferMu.Lock()
		flags := p.deferFlags
		p.deferFlags = 0
		p.deferMu.Unlock()

		if flags != 0 {
			p.runDeferred(flags)
		}
	}
}

// RegisterThread creates a new Thread for this process (BINDER_THREAD
// registration, implicit on the first ioctl(BINDER_WRITE_READ) from a new
// tid in the real driver).
func (p *Process) RegisterThread() *Thread {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	p.nextThreadID++
	t := NewThread(p.nextThreadID, p)
	p.inner.threads[t.ID] = t
	return t
}

// RemoveThread removes a thread from the process's thread table, called
// when BC_THREAD_EXIT is processed.
func (p *Process) RemoveThread(t *Thread) {
	t.Exit()
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	delete(p.inner.threads, t.ID)
	if t.readyElem != nil {
		p.inner.readyThreads.Remove(t.readyElem)
		t.readyElem = nil
	}
}

// NeedsThread reports whether the process should spawn another looper
// thread: there's pending work but no ready threads, and the pool hasn't
// hit its ceiling.
func (p *Process) NeedsThread() bool {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	if p.inner.work.Empty() {
		return false
	}
	if !p.inner.readyThreads.Empty() {
		return false
	}
	return uint32(len(p.inner.threads)) < p.inner.maxThreads
}

// SetMaxThreads implements BINDER_SET_MAX_THREADS.
func (p *Process) SetMaxThreads(n uint32) {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	p.inner.maxThreads = n
}

// unregisterReadyThread is called by Registration.Close to remove a
// parked thread from ready_threads if push_work hasn't already claimed it.
func (p *Process) unregisterReadyThread(t *Thread, e *dlist.Element[*Thread]) {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	p.inner.readyThreads.Remove(e)
	t.readyElem = nil
}

// GetWorkOrRegister returns any already-queued process-level work
// immediately; if there is none, it registers the thread on
// ready_threads and returns a Registration the caller must Close once
// it's done waiting (whether or not work arrived), matching
// get_work_or_register's RAII guard.
func (p *Process) GetWorkOrRegister(t *Thread) (DeliverToRead, *Registration) {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()

	if item, ok := p.inner.work.PopFront(); ok {
		return item, nil
	}

	t.mu.Lock()
	t.state = ThreadWaiting
	t.mu.Unlock()
	elem := p.inner.readyThreads.PushBack(t)
	t.readyElem = elem
	return nil, &Registration{proc: p, thread: t, elem: elem}
}

// PushWork implements push_work: deliver directly to a parked ready
// thread if one exists, otherwise queue it on the process's work list for
// the next thread that calls GetWorkOrRegister.
func (p *Process) PushWork(item DeliverToRead) error {
	p.inner.mu.Lock()

	// A ready, parked thread must be served directly regardless of
	// is_dead: it registered before (or racing) the teardown that set
	// the flag, and dropping its delivery would strand it waiting
	// forever instead of handing back the work it's already blocked on.
	if e := p.inner.readyThreads.Front(); e != nil {
		t := e.Value()
		p.inner.readyThreads.Remove(e)
		t.readyElem = nil
		p.inner.mu.Unlock()

		t.mu.Lock()
		t.state = ThreadLooping
		t.deliverLocked(item)
		t.mu.Unlock()

		p.metrics.RecordWorkDelivered(true)
		return nil
	}

	if p.inner.isDead {
		p.inner.mu.Unlock()
		return NewError("push_work", CodeNoSuchProcess, "process is dead")
	}

	p.inner.work.PushBack(item)
	p.inner.mu.Unlock()
	p.metrics.RecordWorkDelivered(false)
	return nil
}

// PushWorkToThread delivers item directly to a specific thread,
// bypassing ready_threads entirely (used for replies, which must return
// to the thread that issued the original transaction).
func (p *Process) PushWorkToThread(t *Thread, item DeliverToRead) {
	t.Deliver(item)
}

// frozenRecvFlags returns whether a sync/async transaction arrived while
// this process was frozen, for BINDER_GET_FROZEN_INFO/get_frozen_status.
func (p *Process) frozenRecvFlags() (sync_ bool, async_ bool) {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	return p.inner.syncRecv, p.inner.asyncRecv
}

// NoteTransactionWhileFrozen records that a transaction arrived while
// frozen, for later BINDER_GET_FROZEN_INFO reporting.
func (p *Process) NoteTransactionWhileFrozen(oneway bool) {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	if !p.inner.isFrozen {
		return
	}
	if oneway {
		p.inner.asyncRecv = true
	} else {
		p.inner.syncRecv = true
	}
}

// IsFrozen reports whether the process is currently frozen.
func (p *Process) IsFrozen() bool {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	return p.inner.isFrozen
}

// Freeze implements BINDER_FREEZE(enable=1): blocks the calling goroutine
// until either the process-level work list is empty (see
// hasOutstandingSyncWorkLocked), timeoutMs elapses, or the process dies,
// mirroring the kernel wait_event_freezable_timeout loop. timeoutMs == 0
// waits using DefaultFreezeTimeout rather than forever, since this model
// has no real signal-delivery story to interrupt an unbounded wait.
func (p *Process) Freeze(timeoutMs uint32) error {
	start := time.Now()
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = constants.DefaultFreezeTimeout
	}

	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()

	if p.inner.isDead {
		return NewError("freeze", CodeNoSuchProcess, "process is dead")
	}

	p.inner.isFrozen = true
	p.inner.syncRecv = false
	p.inner.asyncRecv = false

	deadline := time.Now().Add(timeout)
	for p.hasOutstandingSyncWorkLocked() && !p.inner.isDead {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.metrics.RecordFreezeOutcome(false, false, uint64(time.Since(start)))
			return NewError("freeze", CodeTryAgain, "timed out waiting for transactions to drain")
		}
		waitOnCondWithTimeout(p.inner.freezeCond, remaining)
	}

	p.metrics.RecordFreezeOutcome(true, false, uint64(time.Since(start)))
	return nil
}

// hasOutstandingSyncWorkLocked reports whether the process-level work
// list still holds undelivered items, a simplification of the original's
// "outstanding transaction" bookkeeping. Work already handed to a
// thread, and transactions a thread is still handling, are not counted.
func (p *Process) hasOutstandingSyncWorkLocked() bool {
	return !p.inner.work.Empty()
}

// Thaw implements BINDER_FREEZE(enable=0).
func (p *Process) Thaw() error {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	p.inner.isFrozen = false
	p.inner.freezeCond.Broadcast()
	return nil
}

// GetNode returns the owned Node for (ptr, cookie), creating it if this
// is the first time the process has seen it. If a node already exists at
// ptr with a different cookie, that is EINVAL -- userspace is confused
// about which object it's talking about. GetNode itself does no
// refcounting; callers that need to acquire a strong or weak reference
// on the result (rather than just resolving a bare pointer, as
// SET_CONTEXT_MGR does) want AcquireNodeRef instead.
func (p *Process) GetNode(ptr, cookie uint64) (*Node, error) {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()

	if n, ok := p.inner.nodes[ptr]; ok {
		if !n.MatchesCookie(cookie) {
			return nil, NewError("get_node", CodeInvalidArgument, "cookie mismatch for existing node")
		}
		return n, nil
	}

	n := NewNode(p, ptr, cookie)
	p.inner.nodes[ptr] = n
	p.metrics.RecordNodeCreated()
	return n, nil
}

// AcquireNodeRef implements get_node: finds or creates the owned node at
// (ptr, cookie), same as GetNode, but also acquires a strong or weak
// reference on behalf of the caller, delivering a BC_ACQUIRE/BC_INCREFS
// to this process's own work queue on a fresh 0->1 transition. A 0->1
// strong acquire that arrives while an earlier BC_ACQUIRE is still
// unacknowledged is refused by IncrRefcountAllowZeroToOne; AcquireNodeRef
// then allocates a CritIncrWrapper and tries once more, mirroring
// get_node's two-attempt loop. The wrapper is not passed to the node, so
// the second attempt runs the same check: while the BC_ACQUIRE is still
// unacknowledged it is refused again and AcquireNodeRef returns a
// CodeTryAgain error.
func (p *Process) AcquireNodeRef(ptr, cookie uint64, strong bool) (*NodeRef, error) {
	var wrapper *CritIncrWrapper
	for attempt := 0; attempt < 2; attempt++ {
		n, err := p.GetNode(ptr, cookie)
		if err != nil {
			return nil, err
		}

		needsPush, pushIsIncrement, ok := n.IncrRefcountAllowZeroToOne(strong)
		if !ok {
			wrapper = NewCritIncrWrapper()
			continue
		}

		if needsPush {
			var work DeliverToRead
			if wrapper != nil {
				work = wrapper.Take(n, strong, pushIsIncrement)
			} else {
				work = &NodeWork{Node: n, Strong: strong, Increment: pushIsIncrement}
			}
			_ = p.PushWork(work)
		}

		ref := &NodeRef{Node: n}
		if strong {
			ref.StrongCount = 1
		} else {
			ref.WeakCount = 1
		}
		return ref, nil
	}
	return nil, NewError("get_node", CodeTryAgain, "could not deliver critical increment")
}

// GetExistingNode returns the owned Node for ptr without creating one,
// used by update_node/inc_ref_done callers that must not conjure a node
// that was never first seen via a transaction.
func (p *Process) GetExistingNode(ptr uint64, cookie uint64) (*Node, error) {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	n, ok := p.inner.nodes[ptr]
	if !ok {
		return nil, NewError("get_existing_node", CodeInvalidArgument, "no such node")
	}
	if !n.MatchesCookie(cookie) {
		return nil, NewError("get_existing_node", CodeInvalidArgument, "cookie mismatch")
	}
	return n, nil
}

// IncRefDone implements the BC_INCREFS_DONE/BC_ACQUIRE_DONE completion
// path (process.rs's Process::inc_ref_done): userspace has finished
// processing the increment we asked it for.
func (p *Process) IncRefDone(ptr, cookie uint64) error {
	n, err := p.GetExistingNode(ptr, cookie)
	if err != nil {
		return WrapError("inc_ref_done", err)
	}
	if stillWants := n.IncRefDone(); stillWants {
		return p.PushWork(&NodeWork{Node: n, Strong: true, Increment: true})
	}
	return nil
}

// UpdateNode implements the decrement-only update_node path used
// alongside BC_FREE_BUFFER bookkeeping, where the caller only has
// (ptr, cookie), not a NodeRef.
func (p *Process) UpdateNode(ptr, cookie uint64) error {
	n, err := p.GetExistingNode(ptr, cookie)
	if err != nil {
		return WrapError("update_node", err)
	}
	n.Lock()
	needsPush, isIncrement := n.UpdateRefcountLocked(-1, true)
	n.Unlock()
	if needsPush {
		return p.PushWork(&NodeWork{Node: n, Strong: true, Increment: isIncrement})
	}
	return nil
}

// InsertOrUpdateHandle wires ProcessNodeRefs.InsertOrUpdateHandle with
// this process as the owning table, records a metric on first creation,
// and delivers the BC_ACQUIRE/BC_INCREFS (or release counterpart) to the
// node's owner if absorbing this reference pushed the node's strong or
// weak presence across a 0<->1 boundary.
func (p *Process) InsertOrUpdateHandle(node *Node, strong bool) uint32 {
	h, created, needsPush, isIncrement := p.NodeRefs.InsertOrUpdateHandle(node, strong, p)
	if created {
		p.metrics.RecordHandleCreated()
	}
	if needsPush {
		_ = node.Owner.PushWork(&NodeWork{Node: node, Strong: strong, Increment: isIncrement})
	}
	return h
}

// GetNodeFromHandle resolves a handle to its NodeRefInfo, as used by
// transaction dispatch and BINDER_GET_NODE_INFO_FOR_REF.
func (p *Process) GetNodeFromHandle(handle uint32) (*NodeRefInfo, error) {
	info, ok := p.NodeRefs.GetFromHandle(handle)
	if !ok {
		return nil, NewError("get_node_from_handle", CodeInvalidArgument, "unknown handle")
	}
	return info, nil
}

// UpdateRef adjusts a handle's refcount, releasing the underlying node
// reference (and notifying its owner) if the count reaches zero.
func (p *Process) UpdateRef(handle uint32, strong, increment bool) error {
	info, removed, err := p.NodeRefs.UpdateRef(handle, strong, increment)
	if err != nil {
		return WrapError("update_ref", err)
	}
	if removed {
		p.metrics.RecordHandleFreed()
		node := info.Node
		node.Lock()
		needsPush, isIncrement := node.UpdateRefcountLocked(-1, strong)
		node.Unlock()
		if needsPush {
			_ = node.Owner.PushWork(&NodeWork{Node: node, Strong: strong, Increment: isIncrement})
		}
	}
	return nil
}

// Mmap establishes the transaction buffer arena, the Go-level equivalent
// of the driver's file_operations.mmap. size is clamped to MaxMmapSize.
func (p *Process) Mmap(size int) error {
	if size <= 0 {
		return NewError("mmap", CodeInvalidArgument, "size must be positive")
	}
	if size > constants.MaxMmapSize {
		size = constants.MaxMmapSize
	}

	p.mappingMu.Lock()
	defer p.mappingMu.Unlock()
	if p.mapping != nil {
		return NewError("mmap", CodeInvalidArgument, "already mapped")
	}

	pages, err := pagerange.New(size)
	if err != nil {
		return WrapError("mmap", err)
	}
	p.mapping = &Mapping{
		pages: pages,
		arena: rangealloc.New(size),
		size:  size,
	}
	return nil
}

// BufferAlloc implements buffer_alloc: reserve size bytes from the arena
// and install real backing pages for the resulting range before handing
// it back, so the caller can immediately read/write it.
func (p *Process) BufferAlloc(size int, target interface{}) (*rangealloc.Allocation, error) {
	p.mappingMu.Lock()
	m := p.mapping
	p.mappingMu.Unlock()
	if m == nil {
		return nil, NewError("buffer_alloc", CodeInvalidArgument, "no mapping established")
	}

	alloc, err := m.arena.ReserveNew(size, target)
	if err != nil {
		return nil, WrapError("buffer_alloc", err)
	}
	if err := m.pages.UseRange(alloc.Offset, alloc.Size); err != nil {
		_, _ = m.arena.Free(alloc.Offset)
		return nil, WrapError("buffer_alloc", err)
	}
	p.metrics.RecordBufferAlloc(uint64(size))
	return alloc, nil
}

// BufferGet returns the live allocation at offset, or an error if there is
// none (a double-free or a bogus offset from userspace).
func (p *Process) BufferGet(offset int) (*rangealloc.Allocation, error) {
	p.mappingMu.Lock()
	m := p.mapping
	p.mappingMu.Unlock()
	if m == nil {
		return nil, NewError("buffer_get", CodeInvalidArgument, "no mapping established")
	}
	alloc, ok := m.arena.Lookup(offset)
	if !ok {
		return nil, NewError("buffer_get", CodeInvalidArgument, "no such allocation")
	}
	return alloc, nil
}

// BufferMakeFreeable marks a buffer as no longer needed by its owning
// transaction without releasing its backing pages yet; in this model
// (which has no separate "freeable but not yet freed" list) that is a
// validation-only no-op layered in front of BufferRawFree, preserved as
// its own entry point because spec.md names it as a distinct operation
// userspace calls ahead of the final free.
func (p *Process) BufferMakeFreeable(offset int) error {
	_, err := p.BufferGet(offset)
	return err
}

// BufferRawFree implements buffer_raw_free: release the allocation back
// to the arena and drop its page-range hold.
func (p *Process) BufferRawFree(offset int) error {
	p.mappingMu.Lock()
	m := p.mapping
	p.mappingMu.Unlock()
	if m == nil {
		return NewError("buffer_raw_free", CodeInvalidArgument, "no mapping established")
	}
	alloc, err := m.arena.Free(offset)
	if err != nil {
		return WrapError("buffer_raw_free", err)
	}
	if err := m.pages.StopUsingRange(alloc.Offset, alloc.Size); err != nil {
		return WrapError("buffer_raw_free", err)
	}
	p.metrics.RecordBufferFree(uint64(alloc.Size))
	return nil
}

// RequestDeath implements request_death.
//
// TODO(process.rs): "First two [error conditions] should result in error,
// but not the others" -- the original only partially validates its error
// branches here, and this mirrors that rather than inventing a stricter
// contract spec.md doesn't actually specify.
func (p *Process) RequestDeath(handle uint32, cookie uint64) error {
	info, ok := p.NodeRefs.GetFromHandle(handle)
	if !ok {
		return NewError("request_death", CodeInvalidArgument, "unknown handle")
	}
	if info.Death != nil {
		// Already registered; idempotent no-op, matching lenient behavior.
		return nil
	}
	death := &NodeDeath{Cookie: cookie, Ref: info}
	info.Death = death
	info.Node.AddDeath(death)
	p.metrics.RecordDeathRequested()
	return nil
}

// ClearDeath implements clear_death.
func (p *Process) ClearDeath(handle uint32, cookie uint64) error {
	info, ok := p.NodeRefs.GetFromHandle(handle)
	if !ok {
		return NewError("clear_death", CodeInvalidArgument, "unknown handle")
	}
	if info.Death == nil || info.Death.Cookie != cookie {
		return NewError("clear_death", CodeInvalidArgument, "no matching death registration")
	}
	wasDelivered := info.Death.MarkCleared()
	p.metrics.RecordDeathCleared()
	if wasDelivered {
		return p.PushWork(&ClearDeathWork{Death: info.Death})
	}
	return nil
}

// DeadBinderDone implements dead_binder_done: userspace acknowledges it
// has finished processing a BR_DEAD_BINDER notification.
func (p *Process) DeadBinderDone(cookie uint64) error {
	// Nothing further to release in this model beyond the bookkeeping
	// already performed at delivery time; kept as its own entry point
	// since spec.md names it as a distinct operation.
	return nil
}

// RemoveFromDeliveredDeaths detaches a death registration from the
// NodeRefInfo it was registered through by clearing that ref's Death
// field, called once a death notification has been fully acknowledged.
// The node's own death list is left unchanged.
func (p *Process) RemoveFromDeliveredDeaths(death *NodeDeath) {
	if death.Ref == nil {
		return
	}
	death.Ref.Death = nil
}

// ScheduleDeferred queues deferred bookkeeping work on deferredWorker, the
// userspace analogue of scheduling a work_struct on the kernel's system
// workqueue. Flags accumulate: a flush scheduled while a release is
// already pending is simply folded into the same wakeup.
func (p *Process) ScheduleDeferred(flag uint32) {
	p.deferMu.Lock()
	p.deferFlags |= flag
	p.deferMu.Unlock()

	select {
	case p.deferSignal <- struct{}{}:
	default:
	}
}

// Flush implements file_operations.flush: wake every thread so it can
// notice the fd is going away.
func (p *Process) Flush() error {
	p.ScheduleDeferred(deferFlush)
	return nil
}

// Release implements file_operations.release: tear the process down for
// good. Safe to call more than once; only the first call does anything.
// Blocks until the deferred teardown has actually completed, since
// callers expect the process's nodes/handles/buffers to be gone by the
// time Release returns.
func (p *Process) Release() error {
	p.ScheduleDeferred(deferRelease)
	<-p.releaseDone
	return nil
}

func (p *Process) runDeferred(flags uint32) {
	if flags&deferFlush != 0 {
		p.deferredFlush()
	}
	if flags&deferRelease != 0 {
		p.deferredRelease()
	}
}

// deferredFlush calls NotifyIfPollReady on every registered thread,
// mirroring Process::deferred_flush. That only broadcasts each thread's
// condition variable: no thread's state changes and no thread leaves the
// looper, and a thread in WaitForWork with no work queued and no wake
// signal goes back to waiting.
func (p *Process) deferredFlush() {
	p.inner.mu.Lock()
	threads := make([]*Thread, 0, len(p.inner.threads))
	for _, t := range p.inner.threads {
		threads = append(threads, t)
	}
	p.inner.mu.Unlock()

	for _, t := range threads {
		t.NotifyIfPollReady()
	}
}

// deferredRelease performs the full process teardown in this order: mark
// dead, leave the context's process table (giving up context-manager
// status if this process held it), release every node this process owned (notifying other
// processes' refs and any registered death watchers), drop this
// process's own references to nodes owned elsewhere, free the buffer
// arena, wake any freeze waiters, retire every thread, and finally tear
// down the mmap region.
func (p *Process) deferredRelease() {
	p.inner.mu.Lock()
	if p.inner.isDead {
		p.inner.mu.Unlock()
		return
	}
	p.inner.isDead = true
	p.inner.isFrozen = false
	p.inner.syncRecv = false
	p.inner.asyncRecv = false
	ownedNodes := make([]*Node, 0, len(p.inner.nodes))
	for _, n := range p.inner.nodes {
		ownedNodes = append(ownedNodes, n)
	}
	p.inner.mu.Unlock()

	// Step: leave the context's process table, and give up context
	// manager status if we held it -- otherwise the context stays
	// permanently claimed by a process that no longer exists.
	p.Ctx.unregisterProcess(p)
	if p.isManager {
		p.Ctx.ClearManagerNode()
		p.isManager = false
	}

	// Step: release every node we own. Each outstanding ref from another
	// process gets a decref/release pushed to it; each registered death
	// watcher gets a BR_DEAD_BINDER.
	for _, n := range ownedNodes {
		for _, ref := range n.refs.Slice() {
			if ref.Proc != nil && ref.Proc != p {
				_ = ref.Proc.PushWork(&NodeWork{Node: n, Strong: ref.StrongCount > 0, Increment: false})
			}
		}
		for _, death := range n.Deaths() {
			if death.IsCleared() {
				continue
			}
			if death.MarkDelivered() && death.Ref != nil && death.Ref.Proc != nil {
				_ = death.Ref.Proc.PushWork(&DeathNotificationWork{Death: death})
				death.Ref.Proc.metrics.RecordDeathDelivered()
			}
		}
		p.metrics.RecordNodeDestroyed()
	}

	// Step: drop our own references into nodes owned elsewhere, unlinking
	// this process's NodeRefInfo from each node's refs list and clearing
	// any death registration so it isn't left dangling on a node that
	// outlives us.
	p.NodeRefs.Each(func(handle uint32, info *NodeRefInfo) {
		if info.Node.Owner == p {
			return
		}
		node := info.Node
		node.Lock()
		needsPush, isIncrement := node.UpdateRefcountLocked(-(info.StrongCount + info.WeakCount), info.StrongCount > 0)
		node.Unlock()
		if needsPush {
			_ = node.Owner.PushWork(&NodeWork{Node: node, Strong: info.StrongCount > 0, Increment: isIncrement})
		}
		node.RemoveRef(info.nodeElem)
		if info.Death != nil {
			info.Death.MarkCleared()
			info.Death = nil
		}
	})

	// Step: free the buffer arena.
	p.mappingMu.Lock()
	m := p.mapping
	var live []*rangealloc.Allocation
	if m != nil {
		m.arena.Each(func(a *rangealloc.Allocation) {
			live = append(live, a)
		})
	}
	p.mappingMu.Unlock()
	if m != nil {
		for _, a := range live {
			_, _ = m.arena.Free(a.Offset)
			_ = m.pages.StopUsingRange(a.Offset, a.Size)
		}
	}

	// Step: wake any freeze waiter; the process dying always unblocks it.
	p.inner.mu.Lock()
	p.inner.freezeCond.Broadcast()
	threads := make([]*Thread, 0, len(p.inner.threads))
	for _, t := range p.inner.threads {
		threads = append(threads, t)
	}
	p.inner.mu.Unlock()

	// Step: retire every thread.
	for _, t := range threads {
		t.Exit()
	}

	// Step: tear down the mmap region.
	p.mappingMu.Lock()
	if p.mapping != nil {
		_ = p.mapping.pages.Close()
		p.mapping = nil
	}
	p.mappingMu.Unlock()

	p.releaseOnce.Do(func() {
		close(p.releaseDone)
		if p.cancel != nil {
			p.cancel()
		}
	})
}

// Poll implements file_operations.poll for thread t: reports whether t has
// work available to read without blocking.
func (p *Process) Poll(t *Thread) bool {
	return t.PendingWork()
}

// Ioctl dispatches the subset of the Binder ioctl surface this subsystem
// owns: thread-pool/context-manager/freeze controls
// and the debug/info queries. BINDER_WRITE_READ's transaction payload
// itself is out of scope; callers needing it should use PushWork/
// GetWorkOrRegister directly.
func (p *Process) Ioctl(t *Thread, cmd uint32, arg []byte) ([]byte, error) {
	switch cmd {
	case uapi.BinderSetMaxThreads:
		if len(arg) < 4 {
			return nil, p.ioctlFail(t, "SET_MAX_THREADS", CodeInvalidArgument)
		}
		p.SetMaxThreads(le32(arg))
		return nil, nil

	case uapi.BinderThreadExit:
		p.RemoveThread(t)
		return nil, nil

	case uapi.BinderSetContextMgr, uapi.BinderSetContextMgrExt:
		var flags uint32
		var ptr, cookie uint64
		if cmd == uapi.BinderSetContextMgrExt {
			var fbo uapi.FlatBinderObject
			if err := uapi.Unmarshal(arg, &fbo); err != nil {
				return nil, p.ioctlFail(t, "SET_CONTEXT_MGR_EXT", CodeInvalidArgument)
			}
			flags = fbo.Flags
			ptr = fbo.Binder
			cookie = fbo.Cookie
		}
		node, err := p.GetNode(ptr, cookie)
		if err != nil {
			return nil, p.ioctlFail(t, "SET_CONTEXT_MGR", CodeInvalidArgument)
		}
		if err := p.Ctx.SetManagerNode(node, flags); err != nil {
			return nil, p.ioctlFail(t, "SET_CONTEXT_MGR", CodeInvalidArgument)
		}
		// The context manager object is implicitly always referenced;
		// force the count rather than go through the normal zero-to-one
		// acquire/increfs delivery path for it.
		node.ForceHasCount()
		p.isManager = true
		return nil, nil

	case uapi.BinderEnableOnewaySpam:
		if len(arg) < 4 {
			return nil, p.ioctlFail(t, "ENABLE_ONEWAY_SPAM_DETECTION", CodeInvalidArgument)
		}
		p.inner.mu.Lock()
		p.inner.onewaySpamEnabled = le32(arg) != 0
		p.inner.mu.Unlock()
		return nil, nil

	case uapi.BinderFreezeIoctl:
		var info uapi.BinderFreezeInfo
		if err := uapi.Unmarshal(arg, &info); err != nil {
			return nil, p.ioctlFail(t, "FREEZE", CodeInvalidArgument)
		}
		var err error
		if info.Enable != 0 {
			err = p.Freeze(info.TimeoutMs)
		} else {
			err = p.Thaw()
		}
		if err != nil {
			return nil, p.ioctlFailErr(t, "FREEZE", err)
		}
		return nil, nil

	case uapi.BinderGetFrozenInfo:
		s, a := p.frozenRecvFlags()
		out := uapi.BinderFrozenStatusInfo{PID: uint32(p.PID)}
		if s {
			out.SyncRecv = 1
		}
		if a {
			out.AsyncRecv = 1
		}
		return uapi.Marshal(&out), nil

	case uapi.BinderVersionIoctl:
		v := uapi.BinderVersion{ProtocolVersion: uapi.CurrentProtocolVersion}
		return uapi.Marshal(&v), nil

	case uapi.BinderGetNodeDebugInfo:
		var req uapi.BinderNodeDebugInfo
		if err := uapi.Unmarshal(arg, &req); err != nil {
			return nil, p.ioctlFail(t, "GET_NODE_DEBUG_INFO", CodeInvalidArgument)
		}
		return uapi.Marshal(p.nodeDebugInfoAfter(req.Ptr)), nil

	case uapi.BinderGetNodeInfoForRef:
		var req uapi.BinderNodeInfoForRef
		if err := uapi.Unmarshal(arg, &req); err != nil {
			return nil, p.ioctlFail(t, "GET_NODE_INFO_FOR_REF", CodeInvalidArgument)
		}
		info, err := p.GetNodeFromHandle(req.Handle)
		if err != nil {
			return nil, p.ioctlFailErr(t, "GET_NODE_INFO_FOR_REF", err)
		}
		out := uapi.BinderNodeInfoForRef{
			Handle:      req.Handle,
			StrongCount: uint32(info.StrongCount),
			WeakCount:   uint32(info.WeakCount),
		}
		return uapi.Marshal(&out), nil

	case uapi.BinderGetExtendedError:
		errOut := t.GetExtendedError()
		var code int32
		if errOut != nil {
			code = int32(errnoForCode(errOut.Code))
		}
		v := uapi.BinderVersion{ProtocolVersion: code}
		return uapi.Marshal(&v), nil

	default:
		return nil, p.ioctlFail(t, "ioctl", CodeInvalidArgument)
	}
}

func (p *Process) ioctlFail(t *Thread, op string, code ErrorCode) error {
	err := NewError(op, code, "ioctl failed")
	t.SetExtendedError(err)
	return err
}

func (p *Process) ioctlFailErr(t *Thread, op string, inner error) error {
	err := WrapError(op, inner)
	t.SetExtendedError(err)
	return err
}

// nodeDebugInfoAfter finds the first owned node with Ptr > after, for
// BINDER_GET_NODE_DEBUG_INFO's iterate-by-pointer contract (userspace
// calls repeatedly, feeding back the last ptr it saw, until it gets back
// a zero ptr).
func (p *Process) nodeDebugInfoAfter(after uint64) *uapi.BinderNodeDebugInfo {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()

	var best *Node
	for _, n := range p.inner.nodes {
		if n.Ptr <= after {
			continue
		}
		if best == nil || n.Ptr < best.Ptr {
			best = n
		}
	}
	if best == nil {
		return &uapi.BinderNodeDebugInfo{}
	}
	best.Lock()
	defer best.Unlock()
	var strong, weak uint32
	if best.hasStrongRef {
		strong = 1
	}
	if best.hasWeakRef {
		weak = 1
	}
	return &uapi.BinderNodeDebugInfo{Ptr: best.Ptr, Cookie: best.Cookie, HasStrongRef: strong, HasWeakRef: weak}
}

// DebugString renders a one-line summary of the process's live state, the
// Go-idiomatic analogue of process.rs's Process::debug_print used for
// /dev/binder/proc/<pid> style introspection.
func (p *Process) DebugString() string {
	p.inner.mu.Lock()
	nThreads := len(p.inner.threads)
	nReady := p.inner.readyThreads.Len()
	nWork := p.inner.work.Len()
	nNodes := len(p.inner.nodes)
	isDead := p.inner.isDead
	isFrozen := p.inner.isFrozen
	p.inner.mu.Unlock()

	return fmt.Sprintf(
		"proc %d: threads=%d ready=%d work=%d nodes=%d refs=%d dead=%t frozen=%t",
		p.PID, nThreads, nReady, nWork, nNodes, p.NodeRefs.Len(), isDead, isFrozen,
	)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// waitOnCondWithTimeout blocks on cond until either it's signaled or
// timeout elapses. sync.Cond has no native timeout support, so a watcher
// goroutine broadcasts after the deadline to unblock the waiter, the same
// pattern Thread.WaitForWork uses for its wake channel.
func waitOnCondWithTimeout(cond *sync.Cond, timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}
