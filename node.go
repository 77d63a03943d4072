package binder

import (
	"sync"

	"github.com/kbinder/go-binder/internal/dlist"
)

// Node is a binder object owned by some Process, identified by the
// (ptr, cookie) pair userspace chose when it first appeared in a
// transaction. Other processes hold references to it through NodeRef
// entries in their own ProcessNodeRefs handle table.
type Node struct {
	mu sync.Mutex

	Ptr    uint64
	Cookie uint64
	Owner  *Process

	strong int
	weak   int

	hasStrongRef bool
	hasWeakRef   bool

	// pendingStrongRef is set while a BC_ACQUIRE has been sent to the
	// owner but BC_INCREFS_DONE/BC_ACQUIRE_DONE hasn't come back yet; a
	// second concurrent acquire must wait rather than sending a duplicate
	// increment (CouldNotDeliverCriticalIncrement's caller retries).
	pendingStrongRef bool

	refs   *dlist.List[*NodeRefInfo] // every process's ref onto this node
	deaths *dlist.List[*NodeDeath]

	// onewaySpamFlooding records whether a run of unconsumed oneway
	// transactions has crossed the detection threshold; cleared once
	// ConsumeOnewayTransaction brings the pending count back to zero.
	onewaySpamFlooding bool
	onewayPending      int
}

// NewNode creates a Node owned by p, as seen for the first time in a
// transaction that referenced (ptr, cookie).
func NewNode(p *Process, ptr, cookie uint64) *Node {
	return &Node{
		Ptr:    ptr,
		Cookie: cookie,
		Owner:  p,
		refs:   dlist.New[*NodeRefInfo](),
		deaths: dlist.New[*NodeDeath](),
	}
}

// MatchesCookie reports whether an existing node lookup's cookie agrees
// with what the caller expected; get_node callers must treat a mismatch as
// EINVAL rather than silently accepting a different cookie for the same
// pointer.
func (n *Node) MatchesCookie(cookie uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Cookie == cookie
}

// UpdateRefcountLocked adjusts the node's own (not a ref's) strong/weak
// counters and reports whether the owner needs a BC_ACQUIRE/BC_INCREFS (or
// their release counterparts) pushed to it as a result.
//
// delta is +1 or -1; strong selects which counter family to touch.
func (n *Node) UpdateRefcountLocked(delta int, strong bool) (needsPush bool, pushIsIncrement bool) {
	if strong {
		n.strong += delta
		if n.strong < 0 {
			n.strong = 0
		}
		wantStrong := n.strong > 0
		if wantStrong != n.hasStrongRef && !n.pendingStrongRef {
			n.hasStrongRef = wantStrong
			return true, wantStrong
		}
		return false, false
	}
	n.weak += delta
	if n.weak < 0 {
		n.weak = 0
	}
	wantWeak := n.weak > 0
	if wantWeak != n.hasWeakRef {
		n.hasWeakRef = wantWeak
		return true, wantWeak
	}
	return false, false
}

// Lock/Unlock expose the node's mutex to Process methods that need to
// coordinate a refcount change with a push_work call under the same
// critical section the original implementation uses (node lock nests
// inside ProcessInner's lock, per the lock order in SPEC_FULL.md).
func (n *Node) Lock()   { n.mu.Lock() }
func (n *Node) Unlock() { n.mu.Unlock() }

// BeginPendingAcquire marks that a BC_ACQUIRE has been sent to the owner
// and is awaiting BC_ACQUIRE_DONE/BC_INCREFS_DONE. Must be called with the
// node locked.
func (n *Node) BeginPendingAcquire() { n.pendingStrongRef = true }

// IncrRefcountAllowZeroToOne adds a strong or weak reference on behalf of
// a caller that doesn't yet hold one (process.rs's
// incr_refcount_allow_zero2one, driven by get_node). Unlike
// UpdateRefcountLocked's generic +/-1 delta, this refuses to race a
// second 0->1 strong acquire ahead of an outstanding BC_ACQUIRE that
// hasn't been acknowledged with BC_INCREFS_DONE/BC_ACQUIRE_DONE yet: ok
// is false in that case (process.rs's CouldNotDeliverCriticalIncrement).
// The check depends only on the node's own state, so a retry is refused
// the same way until the BC_ACQUIRE has been acknowledged.
func (n *Node) IncrRefcountAllowZeroToOne(strong bool) (needsPush, pushIsIncrement, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if strong {
		if n.strong == 0 && n.pendingStrongRef {
			return false, false, false
		}
		n.strong++
		if !n.hasStrongRef {
			n.hasStrongRef = true
			n.pendingStrongRef = true
			return true, true, true
		}
		return false, false, true
	}

	n.weak++
	if !n.hasWeakRef {
		n.hasWeakRef = true
		return true, true, true
	}
	return false, false, true
}

// ForceHasCount marks the node as already holding both a strong and a
// weak reference without pushing a BC_ACQUIRE/BC_INCREFS, matching
// process.rs's force_has_count: the context manager object is always
// implicitly referenced, so delivering the usual zero-to-one
// notification to its own owner would be redundant.
func (n *Node) ForceHasCount() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.strong == 0 {
		n.strong = 1
	}
	if n.weak == 0 {
		n.weak = 1
	}
	n.hasStrongRef = true
	n.hasWeakRef = true
}

// IncRefDone clears the pending critical increment flag started by
// BeginPendingAcquire, as driven by Process.IncRefDone (process.rs's
// inc_ref_done). Returns whether the strong refcount actually wants a ref
// right now (a second acquire/release may have raced in while we waited).
func (n *Node) IncRefDone() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pendingStrongRef = false
	return n.strong > 0 && !n.hasStrongRef
}

// AddRef links a NodeRefInfo into this node's ref list and returns the
// handle so callers can unlink it again with RemoveRef.
func (n *Node) AddRef(ref *NodeRefInfo) *dlist.Element[*NodeRefInfo] {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refs.PushBack(ref)
}

// RemoveRef unlinks a previously added ref.
func (n *Node) RemoveRef(e *dlist.Element[*NodeRefInfo]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refs.Remove(e)
}

// HasNoRefs reports whether the node has no outstanding refs from any
// process and no pending critical increment, meaning it can be fully torn
// down the next time its owner runs deferred_release.
func (n *Node) HasNoRefs() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refs.Empty() && !n.pendingStrongRef && n.strong == 0 && n.weak == 0
}

// AddDeath links death into this node's delivered/registered death list.
func (n *Node) AddDeath(death *NodeDeath) *dlist.Element[*NodeDeath] {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deaths.PushBack(death)
}

// RemoveDeath unlinks a death registration.
func (n *Node) RemoveDeath(e *dlist.Element[*NodeDeath]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deaths.Remove(e)
}

// Deaths returns a snapshot of every death registration on this node, used
// when the owner dies and every registrant must be notified.
func (n *Node) Deaths() []*NodeDeath {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deaths.Slice()
}

// RecordOnewayTransaction tracks consecutive undelivered oneway
// transactions for BINDER_ENABLE_ONEWAY_SPAM_DETECTION. Each call is
// balanced by a ConsumeOnewayTransaction call once the queued oneway
// transaction is read by userspace.
func (n *Node) RecordOnewayTransaction(spamThreshold int) (isSpam bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onewayPending++
	if spamThreshold > 0 && n.onewayPending >= spamThreshold {
		n.onewaySpamFlooding = true
	}
	return n.onewaySpamFlooding
}

// ConsumeOnewayTransaction clears one pending oneway transaction, reducing
// future spam-detection pressure.
func (n *Node) ConsumeOnewayTransaction() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.onewayPending > 0 {
		n.onewayPending--
	}
	if n.onewayPending == 0 {
		n.onewaySpamFlooding = false
	}
}

// NodeRef is the reference a caller itself just acquired on a Node via
// Process.AcquireNodeRef (process.rs's NodeRef), describing what was
// obtained -- distinct from NodeRefInfo, which is the handle table's
// durable record of a remote process's reference.
type NodeRef struct {
	Node        *Node
	StrongCount int
	WeakCount   int
}

// CritIncrWrapper preallocates the NodeWork item pushed for a 0->1
// acquire, mirroring process.rs's CritIncrWrapper: AcquireNodeRef's first
// attempt runs without one, and only allocates one for the retry after a
// CouldNotDeliverCriticalIncrement race.
type CritIncrWrapper struct {
	work *NodeWork
}

// NewCritIncrWrapper allocates a wrapper for AcquireNodeRef's retry path.
func NewCritIncrWrapper() *CritIncrWrapper {
	return &CritIncrWrapper{work: &NodeWork{}}
}

// Take fills in and returns the wrapper's preallocated NodeWork.
func (w *CritIncrWrapper) Take(n *Node, strong, increment bool) *NodeWork {
	w.work.Node = n
	w.work.Strong = strong
	w.work.Increment = increment
	return w.work
}

// NodeRefInfo is the per-process refcount record for one Node, reachable
// both from ProcessNodeRefs (by handle) and from the Node itself (via its
// refs list), matching process.rs's dual by_handle/by_node indices.
type NodeRefInfo struct {
	Node   *Node
	Handle uint32
	// Proc is the process whose handle table this entry lives in (not the
	// node's owner), so releasing the node can route a decref back to
	// whoever is holding this handle.
	Proc *Process

	StrongCount int
	WeakCount   int

	Death *NodeDeath // non-nil once request_death has been called

	nodeElem *dlist.Element[*NodeRefInfo] // this ref's position in Node.refs
}

// HasRef reports whether this record still holds any strong or weak count,
// i.e. whether it's still a live entry worth keeping in the handle table.
func (i *NodeRefInfo) HasRef() bool {
	return i.StrongCount > 0 || i.WeakCount > 0
}

// NodeDeath represents one request_death registration. cookie is supplied
// by userspace and echoed back verbatim in the BR_DEAD_BINDER
// notification, matching process.rs's NodeDeath.
type NodeDeath struct {
	mu sync.Mutex

	Cookie uint64
	Ref    *NodeRefInfo

	// cleared is set once clear_death has run; a clear racing with an
	// in-flight delivery must still let the delivery complete once, but
	// must suppress any further notification.
	cleared bool
	// delivered is set once the BR_DEAD_BINDER work item has actually been
	// queued to a thread, so dead_binder_done knows whether to expect an
	// acknowledgement.
	delivered bool
}

// MarkCleared marks the registration cleared, returning whether it had
// already been delivered (the caller still owes BR_CLEAR_DEATH_NOTIFICATION_DONE
// either way, but a delivered-and-then-cleared death needs a slightly
// different BC_DEAD_BINDER_DONE bookkeeping path than one cleared before
// ever firing).
func (d *NodeDeath) MarkCleared() (wasDelivered bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	wasDelivered = d.delivered
	d.cleared = true
	return wasDelivered
}

// MarkDelivered records that the death notification was queued to a
// thread. Returns false if the registration was already cleared, meaning
// delivery should be skipped entirely (idempotent: calling twice is safe).
func (d *NodeDeath) MarkDelivered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cleared {
		return false
	}
	d.delivered = true
	return true
}

// IsCleared reports whether clear_death has already run for this
// registration.
func (d *NodeDeath) IsCleared() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cleared
}
