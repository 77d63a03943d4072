package pagerange

import "testing"

func TestUseAndStopUsingRange(t *testing.T) {
	r, err := New(4 * pageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if err := r.UseRange(0, pageSize); err != nil {
		t.Fatalf("UseRange: %v", err)
	}
	if err := r.UseRange(pageSize, pageSize); err != nil {
		t.Fatalf("UseRange: %v", err)
	}

	reclaimed, err := r.Shrink()
	if err != nil {
		t.Fatalf("Shrink: %v", err)
	}
	if reclaimed != 2 {
		t.Fatalf("Shrink() reclaimed %d pages, want 2 (the two untouched pages)", reclaimed)
	}

	if err := r.StopUsingRange(0, pageSize); err != nil {
		t.Fatalf("StopUsingRange: %v", err)
	}
	reclaimed, err = r.Shrink()
	if err != nil {
		t.Fatalf("Shrink: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("Shrink() reclaimed %d pages after freeing one, want 1", reclaimed)
	}
}

func TestUseRangeOutOfBounds(t *testing.T) {
	r, err := New(pageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if err := r.UseRange(0, 2*pageSize); err == nil {
		t.Fatal("expected error for out-of-bounds range")
	}
}

func TestSizeRoundsUpToPage(t *testing.T) {
	r, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if r.Size() != pageSize {
		t.Fatalf("Size() = %d, want %d", r.Size(), pageSize)
	}
}
