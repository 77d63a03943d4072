package dlist

import "testing"

func TestPushPopOrder(t *testing.T) {
	l := New[int]()
	l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	for _, want := range []int{1, 2, 3} {
		got, ok := l.PopFront()
		if !ok || got != want {
			t.Fatalf("PopFront() = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
	if !l.Empty() {
		t.Fatal("expected list to be empty after draining")
	}
}

func TestRemoveMidList(t *testing.T) {
	l := New[string]()
	l.PushBack("a")
	mid := l.PushBack("b")
	l.PushBack("c")

	l.Remove(mid)
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	got := l.Slice()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("Slice() = %v, want [a c]", got)
	}

	// removing twice is a no-op, not a crash
	l.Remove(mid)
	if l.Len() != 2 {
		t.Fatalf("Len() after double remove = %d, want 2", l.Len())
	}
}

func TestFind(t *testing.T) {
	l := New[int]()
	l.PushBack(10)
	l.PushBack(20)
	l.PushBack(30)

	e := l.Find(func(v int) bool { return v == 20 })
	if e == nil || e.Value() != 20 {
		t.Fatalf("Find(20) failed, got %v", e)
	}
	l.Remove(e)
	if got := l.Slice(); len(got) != 2 || got[0] != 10 || got[1] != 30 {
		t.Fatalf("Slice() after removing found element = %v", got)
	}
}
