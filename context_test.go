package binder

import "testing"

func TestRegisterContextReturnsSameInstance(t *testing.T) {
	c1 := RegisterContext("test-ctx-dup")
	c2 := RegisterContext("test-ctx-dup")
	if c1 != c2 {
		t.Error("expected RegisterContext to return the same instance for the same name")
	}
}

func TestGetContext(t *testing.T) {
	if _, ok := GetContext("nonexistent-ctx"); ok {
		t.Error("expected no context to be found for an unregistered name")
	}
	c := RegisterContext("test-ctx-lookup")
	got, ok := GetContext("test-ctx-lookup")
	if !ok || got != c {
		t.Error("expected GetContext to find the previously registered context")
	}
}

func TestProcessRegistrationInContext(t *testing.T) {
	ctx := NewTestContext("proc-reg")
	p := NewProcess(ctx, 42, DefaultProcessConfig())

	procs := ctx.GetProcsWithPID(42)
	if len(procs) != 1 || procs[0] != p {
		t.Fatalf("expected one registered process for pid 42, got %v", procs)
	}

	if err := p.Release(); err != nil {
		t.Fatalf("unexpected error from Release: %v", err)
	}

	if procs := ctx.GetProcsWithPID(42); len(procs) != 0 {
		t.Errorf("expected the process to be unregistered after Release, got %v", procs)
	}
}

func TestSetManagerNodeOnlyOnce(t *testing.T) {
	ctx := NewTestContext("ctx-mgr")
	p, _ := NewTestProcess(1)
	node := NewNode(p, 0x1000, 0)

	if err := ctx.SetManagerNode(node, 0); err != nil {
		t.Fatalf("unexpected error registering the first manager: %v", err)
	}
	if err := ctx.SetManagerNode(node, 0); err == nil {
		t.Error("expected registering a second context manager to fail")
	}

	got, ok := ctx.ManagerNode()
	if !ok || got != node {
		t.Error("expected ManagerNode to return the registered node")
	}

	ctx.ClearManagerNode()
	if _, ok := ctx.ManagerNode(); ok {
		t.Error("expected ManagerNode to report none after ClearManagerNode")
	}
}

func TestFreezeByPIDAndAggregateFrozenStatus(t *testing.T) {
	ctx := NewTestContext("ctx-freeze")
	p := NewProcess(ctx, 777, DefaultProcessConfig())
	defer p.Release()

	p.NoteTransactionWhileFrozen(true) // should be a no-op: not frozen yet
	if err := FreezeByPID(777, true, 50); err != nil {
		t.Fatalf("unexpected error freezing: %v", err)
	}
	if !p.IsFrozen() {
		t.Error("expected process to be frozen")
	}

	p.NoteTransactionWhileFrozen(true)
	info, err := AggregateFrozenStatus(777)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.AsyncRecv == 0 {
		t.Error("expected AsyncRecv to be set after a oneway transaction while frozen")
	}

	if err := FreezeByPID(777, false, 0); err != nil {
		t.Fatalf("unexpected error thawing: %v", err)
	}
	if p.IsFrozen() {
		t.Error("expected process to be thawed")
	}
}

func TestFreezeByPIDNoSuchProcess(t *testing.T) {
	if err := FreezeByPID(999999, true, 10); err == nil {
		t.Error("expected an error freezing a pid with no registered process")
	}
}
