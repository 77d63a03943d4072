package binder

import (
	"sync"

	"github.com/kbinder/go-binder/internal/dlist"
)

// ThreadState tracks a Thread's position in the Binder looper protocol.
type ThreadState int

const (
	// ThreadRegistered is the state right after register_thread, before
	// the thread has entered its read/write loop.
	ThreadRegistered ThreadState = iota
	// ThreadLooping is set once the thread has sent BC_ENTER_LOOPER or
	// BC_REGISTER_LOOPER and is eligible to receive unsolicited work.
	ThreadLooping
	// ThreadWaiting is set while the thread is blocked inside
	// get_work_or_register with no work yet available.
	ThreadWaiting
	// ThreadExited is terminal; the thread has sent BC_EXIT_LOOPER or the
	// fd was released out from under it.
	ThreadExited
)

// Thread is the per-pthread Binder state, analogous to process.rs's
// Thread collaborator. Only the surface push_work/get_node/freeze call
// into is modeled; the transaction-marshalling read/write loop itself is
// out of scope (SPEC_FULL.md Non-goals).
type Thread struct {
	mu    sync.Mutex
	cond  *sync.Cond
	ID    int32
	Proc  *Process
	state ThreadState

	work *dlist.List[DeliverToRead]

	// returnWork carries BC_* acknowledgements this thread must relay back
	// to userspace ahead of regular work (push_return_work).
	returnWork *dlist.List[DeliverToRead]

	// readyElem is this thread's position in Process.inner.readyThreads
	// while it's parked waiting for work with nothing queued; nil
	// otherwise.
	readyElem *dlist.Element[*Thread]

	extendedErr *Error

	// currentTransaction is set while this thread is actively processing
	// a (possibly nested) transaction, consulted by has_current_transaction.
	currentTransaction int
}

// NewThread creates a Thread belonging to p.
func NewThread(id int32, p *Process) *Thread {
	t := &Thread{
		ID:         id,
		Proc:       p,
		work:       dlist.New[DeliverToRead](),
		returnWork: dlist.New[DeliverToRead](),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// SetLooper marks the thread as having entered the looper state, eligible
// to be handed unsolicited work via the process's ready_threads list.
func (t *Thread) SetLooper() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != ThreadExited {
		t.state = ThreadLooping
	}
}

// State returns the thread's current state.
func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsLooper reports whether the thread has entered the looper protocol and
// hasn't exited.
func (t *Thread) IsLooper() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == ThreadLooping || t.state == ThreadWaiting
}

// deliverLocked pushes item onto this thread's own queue and wakes any
// waiter. Caller must hold t.mu.
func (t *Thread) deliverLocked(item DeliverToRead) {
	t.work.PushBack(item)
	t.cond.Signal()
}

// Deliver directly enqueues item on this thread (used when push_work
// targets a specific thread, or when the process picked this thread off
// ready_threads).
func (t *Thread) Deliver(item DeliverToRead) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deliverLocked(item)
}

// PushReturnWork enqueues an acknowledgement this thread owes userspace
// ahead of anything in the regular work queue.
func (t *Thread) PushReturnWork(item DeliverToRead) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.returnWork.PushBack(item)
	t.cond.Signal()
}

// PendingWork reports whether this thread has anything queued, either
// regular work or return work -- used by notify_if_poll_ready.
func (t *Thread) PendingWork() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.work.Empty() || !t.returnWork.Empty()
}

// TakeWork pops the next item this thread should hand back to userspace:
// return work first, then regular work, matching process.rs's ordering in
// Thread::get_return_work.
func (t *Thread) TakeWork() (DeliverToRead, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if item, ok := t.returnWork.PopFront(); ok {
		return item, true
	}
	return t.work.PopFront()
}

// WaitForWork blocks until either item becomes available on this thread's
// queues or wake is closed (e.g. the process died or a signal arrived).
// Returns (nil, false) if wake fired first -- the caller re-checks the
// reason (ERESTARTSYS vs. normal wakeup) itself.
func (t *Thread) WaitForWork(wake <-chan struct{}) (DeliverToRead, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-wake:
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.work.Empty() && t.returnWork.Empty() {
		select {
		case <-wake:
			return nil, false
		default:
		}
		t.cond.Wait()
		select {
		case <-wake:
			return nil, false
		default:
		}
	}
	item, _ := t.TakeWorkLocked()
	return item, true
}

// TakeWorkLocked is TakeWork's body for callers already holding t.mu.
func (t *Thread) TakeWorkLocked() (DeliverToRead, bool) {
	if item, ok := t.returnWork.PopFront(); ok {
		return item, true
	}
	return t.work.PopFront()
}

// NotifyIfPollReady wakes anything blocked in a select/poll(2) call on
// this thread's fd if there's now work to read, mirroring
// Thread::notify_if_poll_ready. Since this model has no real fd, it simply
// broadcasts the condition variable, which WaitForWork and any test-side
// poller both watch.
func (t *Thread) NotifyIfPollReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cond.Broadcast()
}

// HasCurrentTransaction reports whether this thread is in the middle of
// processing a transaction (nested transactions increment a depth
// counter rather than a boolean, matching the original's stack-like
// behavior for synchronous calls that recurse back into the same thread).
func (t *Thread) HasCurrentTransaction() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentTransaction > 0
}

// BeginTransaction/EndTransaction bracket a synchronous transaction this
// thread is actively handling.
func (t *Thread) BeginTransaction() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentTransaction++
}

func (t *Thread) EndTransaction() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.currentTransaction > 0 {
		t.currentTransaction--
	}
}

// SetExtendedError records the most recent extended error this thread's
// last ioctl produced, retrievable via BINDER_GET_EXTENDED_ERROR.
func (t *Thread) SetExtendedError(err *Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.extendedErr = err
}

// GetExtendedError returns (and clears) the thread's last extended error.
func (t *Thread) GetExtendedError() *Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.extendedErr
	t.extendedErr = nil
	return err
}

// Exit transitions the thread to ThreadExited, matching BC_THREAD_EXIT /
// register_thread's teardown path; remove_thread (on Process) is
// responsible for actually removing it from the process's thread table.
func (t *Thread) Exit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = ThreadExited
	t.cond.Broadcast()
}

// Registration is the RAII-style guard get_work_or_register returns while
// a thread is parked on Process.inner.readyThreads. Go has no destructors,
// so callers must `defer reg.Close()` themselves; Close is idempotent,
// matching process.rs's Registration/Drop pair (SPEC_FULL.md §4, item 6).
type Registration struct {
	mu     sync.Mutex
	proc   *Process
	thread *Thread
	elem   *dlist.Element[*Thread]
	closed bool
}

// Close unregisters the thread from ready_threads if it's still there. A
// thread that was woken by push_work before Close runs has already been
// unlinked by the deliverer, so this is a no-op in that case.
func (r *Registration) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.elem != nil {
		r.proc.unregisterReadyThread(r.thread, r.elem)
	}
}
