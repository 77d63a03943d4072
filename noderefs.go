package binder

import (
	"sync"
)

// ProcessNodeRefs is a process's handle table: every Node some other
// owner created that this process has acquired a reference to, indexed
// both by the handle userspace uses (by_handle) and by the underlying
// node's identity (by_node), mirroring process.rs's dual RBTree. A plain
// Go map gives the same O(1) lookup either direction needs; nothing in
// SPEC_FULL.md's invariants depends on in-order iteration of the table
// itself (only the delivered_deaths/work lists need that, and those are
// internal/dlist lists, not this table).
type ProcessNodeRefs struct {
	mu sync.Mutex

	byHandle map[uint32]*NodeRefInfo
	byNode   map[*Node]uint32

	nextHandle uint32
}

// NewProcessNodeRefs creates an empty handle table. firstHandle should be
// FirstOrdinaryHandle for every process except the one holding the
// context manager token (which reserves handle 0 implicitly and never
// allocates it here).
func NewProcessNodeRefs(firstHandle uint32) *ProcessNodeRefs {
	return &ProcessNodeRefs{
		byHandle:   make(map[uint32]*NodeRefInfo),
		byNode:     make(map[*Node]uint32),
		nextHandle: firstHandle,
	}
}

// GetFromHandle returns the NodeRefInfo for handle, if any.
func (t *ProcessNodeRefs) GetFromHandle(handle uint32) (*NodeRefInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.byHandle[handle]
	return info, ok
}

// GetFromNode returns the existing handle/ref for node, if this process
// already holds one.
func (t *ProcessNodeRefs) GetFromNode(node *Node) (*NodeRefInfo, uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	handle, ok := t.byNode[node]
	if !ok {
		return nil, 0, false
	}
	return t.byHandle[handle], handle, true
}

// InsertOrUpdateHandle returns the handle this process uses to refer to
// node, creating a new entry (with a freshly allocated handle) if this is
// the first time this process has seen the node, and bumping the existing
// entry's refcount otherwise. strong selects which refcount family to
// increment. Either way, the absorbed reference is also applied to the
// target Node's own refcount (process.rs's NodeRefInfo::absorb /
// new_node_ref_with_thread bump the node the same way a fresh get_node
// acquire would); needsPush reports whether that pushed the node's
// strong/weak presence across a 0<->1 boundary, in which case the caller
// must deliver a BC_ACQUIRE/BC_INCREFS (or release counterpart) to the
// node's owner.
func (t *ProcessNodeRefs) InsertOrUpdateHandle(node *Node, strong bool, owner *Process) (handle uint32, created bool, needsPush bool, pushIsIncrement bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.byNode[node]; ok {
		info := t.byHandle[h]
		if strong {
			info.StrongCount++
		} else {
			info.WeakCount++
		}
		node.Lock()
		needsPush, pushIsIncrement = node.UpdateRefcountLocked(1, strong)
		node.Unlock()
		return h, false, needsPush, pushIsIncrement
	}

	h := t.nextHandle
	t.nextHandle++

	info := &NodeRefInfo{Node: node, Handle: h, Proc: owner}
	if strong {
		info.StrongCount = 1
	} else {
		info.WeakCount = 1
	}
	info.nodeElem = node.AddRef(info)

	t.byHandle[h] = info
	t.byNode[node] = h

	node.Lock()
	needsPush, pushIsIncrement = node.UpdateRefcountLocked(1, strong)
	node.Unlock()
	return h, true, needsPush, pushIsIncrement
}

// UpdateRef adjusts the refcount on an existing handle's NodeRefInfo. If
// the resulting counts both reach zero, the entry is removed from the
// table (and unlinked from its Node) and removed reports true so the
// caller can release the underlying node reference.
func (t *ProcessNodeRefs) UpdateRef(handle uint32, strong bool, increment bool) (info *NodeRefInfo, removed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.byHandle[handle]
	if !ok {
		return nil, false, NewError("update_ref", CodeInvalidArgument, "unknown handle")
	}

	delta := 1
	if !increment {
		delta = -1
	}
	if strong {
		info.StrongCount += delta
		if info.StrongCount < 0 {
			info.StrongCount = 0
		}
	} else {
		info.WeakCount += delta
		if info.WeakCount < 0 {
			info.WeakCount = 0
		}
	}

	if !info.HasRef() {
		delete(t.byHandle, handle)
		delete(t.byNode, info.Node)
		info.Node.RemoveRef(info.nodeElem)
		return info, true, nil
	}
	return info, false, nil
}

// Each calls fn for every live handle table entry. fn must not call back
// into the table.
func (t *ProcessNodeRefs) Each(fn func(handle uint32, info *NodeRefInfo)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for h, info := range t.byHandle {
		fn(h, info)
	}
}

// Len returns the number of live handle table entries.
func (t *ProcessNodeRefs) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byHandle)
}
