package binder

import "testing"

func TestNodeMatchesCookie(t *testing.T) {
	proc, _ := NewTestProcess(1)
	n := NewNode(proc, 0x1000, 0xabc)

	if !n.MatchesCookie(0xabc) {
		t.Error("expected cookie to match")
	}
	if n.MatchesCookie(0xdef) {
		t.Error("expected mismatched cookie to fail")
	}
}

func TestUpdateRefcountLockedTransitions(t *testing.T) {
	proc, _ := NewTestProcess(1)
	n := NewNode(proc, 0x1000, 0)

	n.Lock()
	needsPush, isIncrement := n.UpdateRefcountLocked(1, true)
	n.Unlock()
	if !needsPush || !isIncrement {
		t.Errorf("first strong ref should need a push increment, got needsPush=%v isIncrement=%v", needsPush, isIncrement)
	}

	// A second strong ref shouldn't trigger another push; the node
	// already has a strong ref outstanding.
	n.Lock()
	needsPush, _ = n.UpdateRefcountLocked(1, true)
	n.Unlock()
	if needsPush {
		t.Error("second strong ref should not need another push")
	}

	n.Lock()
	n.UpdateRefcountLocked(-1, true) // back to 1 outstanding
	needsPush, isIncrement = n.UpdateRefcountLocked(-1, true)
	n.Unlock()
	if !needsPush || isIncrement {
		t.Errorf("dropping the last strong ref should push a release, got needsPush=%v isIncrement=%v", needsPush, isIncrement)
	}
}

func TestIncRefDoneClearsPending(t *testing.T) {
	proc, _ := NewTestProcess(1)
	n := NewNode(proc, 0x2000, 0)

	// Normal flow: the first strong acquire already flips hasStrongRef,
	// so the BC_INCREFS_DONE that follows has nothing left to want.
	n.Lock()
	n.UpdateRefcountLocked(1, true)
	n.BeginPendingAcquire()
	n.Unlock()

	if stillWants := n.IncRefDone(); stillWants {
		t.Error("expected IncRefDone to report nothing outstanding in the normal flow")
	}
	if n.pendingStrongRef {
		t.Error("pendingStrongRef should be cleared after IncRefDone")
	}

	// Raced flow: while BC_ACQUIRE is still in flight the node holds a
	// strong count of 1 but hasStrongRef is false (set directly below to
	// model that state). The BC_INCREFS_DONE that eventually arrives must
	// say the ref is still wanted rather than silently dropping it.
	n2 := NewNode(proc, 0x2100, 0)
	n2.Lock()
	n2.UpdateRefcountLocked(1, true)
	n2.BeginPendingAcquire()
	n2.hasStrongRef = false
	n2.Unlock()

	if stillWants := n2.IncRefDone(); !stillWants {
		t.Error("expected IncRefDone to report the strong ref is still wanted after a race")
	}
}

func TestNodeRefAddRemove(t *testing.T) {
	proc, _ := NewTestProcess(1)
	n := NewNode(proc, 0x3000, 0)

	ref := &NodeRefInfo{Node: n, StrongCount: 1}
	elem := n.AddRef(ref)

	if n.HasNoRefs() {
		t.Error("expected node to report refs present")
	}

	n.RemoveRef(elem)
	if !n.HasNoRefs() {
		t.Error("expected node to report no refs after removal")
	}
}

func TestNodeDeathLifecycle(t *testing.T) {
	proc, _ := NewTestProcess(1)
	n := NewNode(proc, 0x4000, 0)

	death := &NodeDeath{Cookie: 55}
	n.AddDeath(death)

	deaths := n.Deaths()
	if len(deaths) != 1 || deaths[0] != death {
		t.Fatalf("expected one death registration, got %v", deaths)
	}

	if death.IsCleared() {
		t.Error("death should not start cleared")
	}

	if !death.MarkDelivered() {
		t.Error("first MarkDelivered should succeed")
	}

	wasDelivered := death.MarkCleared()
	if !wasDelivered {
		t.Error("MarkCleared should report the death was already delivered")
	}
	if !death.IsCleared() {
		t.Error("death should be cleared now")
	}

	// A clear-then-deliver race must not re-deliver.
	if death.MarkDelivered() {
		t.Error("MarkDelivered should refuse to fire on an already-cleared death")
	}
}

func TestOnewaySpamDetection(t *testing.T) {
	proc, _ := NewTestProcess(1)
	n := NewNode(proc, 0x5000, 0)

	for i := 0; i < 4; i++ {
		n.RecordOnewayTransaction(5)
	}
	if n.RecordOnewayTransaction(5) != true {
		t.Error("expected spam flooding to be flagged at the threshold")
	}

	n.ConsumeOnewayTransaction()
	if n.onewayPending != 4 {
		t.Errorf("expected 4 pending after one consumed, got %d", n.onewayPending)
	}
}
