package rangealloc

import "testing"

func TestReserveAndFree(t *testing.T) {
	a := New(4096)

	alloc1, err := a.ReserveNew(1024, "t1")
	if err != nil {
		t.Fatalf("ReserveNew: %v", err)
	}
	if alloc1.Offset != 0 || alloc1.Size != 1024 {
		t.Fatalf("alloc1 = %+v, want offset 0 size 1024", alloc1)
	}

	alloc2, err := a.ReserveNew(1024, "t2")
	if err != nil {
		t.Fatalf("ReserveNew: %v", err)
	}
	if alloc2.Offset != 1024 {
		t.Fatalf("alloc2.Offset = %d, want 1024", alloc2.Offset)
	}

	if got := a.FreeBytes(); got != 2048 {
		t.Fatalf("FreeBytes() = %d, want 2048", got)
	}

	freed, err := a.Free(alloc1.Offset)
	if err != nil {
		t.Fatalf("Free: %v", err)
	}
	if freed.Target != "t1" {
		t.Fatalf("Free() target = %v, want t1", freed.Target)
	}
	if got := a.FreeBytes(); got != 3072 {
		t.Fatalf("FreeBytes() after free = %d, want 3072", got)
	}
}

func TestReserveNewOutOfSpace(t *testing.T) {
	a := New(1024)
	if _, err := a.ReserveNew(2048, nil); err == nil {
		t.Fatal("expected out-of-space error")
	}
}

func TestFreeCoalescesAdjacentSpans(t *testing.T) {
	a := New(3072)

	x, _ := a.ReserveNew(1024, "x")
	y, _ := a.ReserveNew(1024, "y")
	_, _ = a.ReserveNew(1024, "z")

	if _, err := a.Free(x.Offset); err != nil {
		t.Fatalf("Free(x): %v", err)
	}
	if _, err := a.Free(y.Offset); err != nil {
		t.Fatalf("Free(y): %v", err)
	}

	// x and y are adjacent and both free now; a 2048-byte request should
	// succeed without needing z's space, proving they coalesced.
	alloc, err := a.ReserveNew(2048, "w")
	if err != nil {
		t.Fatalf("ReserveNew after coalesce: %v", err)
	}
	if alloc.Offset != 0 {
		t.Fatalf("ReserveNew offset = %d, want 0 (coalesced span)", alloc.Offset)
	}
}

func TestDoubleFreeFails(t *testing.T) {
	a := New(1024)
	alloc, _ := a.ReserveNew(512, nil)
	if _, err := a.Free(alloc.Offset); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := a.Free(alloc.Offset); err == nil {
		t.Fatal("expected error freeing an already-freed offset")
	}
}
