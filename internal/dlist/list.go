// Package dlist implements a small generic intrusive-style doubly linked
// list. Binder's own data structures keep the same object linked into
// several independent lists at once (a Node sits in its owner's node tree
// and in a ready-thread's work list; a NodeRef sits in both the handle
// table and its Node's ref list) -- a plain slice or container/list.List
// can't express "this value is simultaneously the head of list A and a
// mid-element of list B" without extra indirection, so each list here owns
// its own element wrapper instead of embedding link pointers into the
// payload type.
package dlist

// Element is one link in a List, returned as an opaque handle by the
// Push*/Front/Find methods and accepted back by Remove.
type Element[T any] struct {
	value      T
	prev, next *Element[T]
	list       *List[T]
}

// Value returns the payload stored at this position.
func (e *Element[T]) Value() T { return e.value }

// List is an intrusive-style FIFO/LIFO doubly linked list supporting O(1)
// push, pop, and removal from any position given its element handle.
type List[T any] struct {
	root Element[T] // sentinel; root.next is Front, root.prev is Back
	size int
}

// New returns an empty, ready-to-use list.
func New[T any]() *List[T] {
	l := &List[T]{}
	l.root.next = &l.root
	l.root.prev = &l.root
	l.root.list = l
	return l
}

// Len returns the number of elements currently in the list.
func (l *List[T]) Len() int { return l.size }

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool { return l.size == 0 }

// PushBack appends v and returns its element handle.
func (l *List[T]) PushBack(v T) *Element[T] {
	e := &Element[T]{value: v, list: l}
	back := l.root.prev
	back.next = e
	e.prev = back
	e.next = &l.root
	l.root.prev = e
	l.size++
	return e
}

// PushFront prepends v and returns its element handle.
func (l *List[T]) PushFront(v T) *Element[T] {
	e := &Element[T]{value: v, list: l}
	front := l.root.next
	e.next = front
	e.prev = &l.root
	front.prev = e
	l.root.next = e
	l.size++
	return e
}

// Front returns the first element, or nil if the list is empty.
func (l *List[T]) Front() *Element[T] {
	if l.size == 0 {
		return nil
	}
	return l.root.next
}

// PopFront removes and returns the first element's value.
func (l *List[T]) PopFront() (T, bool) {
	var zero T
	e := l.Front()
	if e == nil {
		return zero, false
	}
	l.Remove(e)
	return e.value, true
}

// Remove unlinks e from l. It does nothing if e is nil or does not belong
// to l, so it is safe to call twice; the second call is a no-op.
func (l *List[T]) Remove(e *Element[T]) {
	if e == nil || e.list != l {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
	e.list = nil
	l.size--
}

// Each calls fn for every element from front to back. fn may not mutate
// the list.
func (l *List[T]) Each(fn func(T)) {
	for e := l.root.next; e != &l.root; e = e.next {
		fn(e.value)
	}
}

// Find returns the first element for which pred returns true, or nil.
func (l *List[T]) Find(pred func(T) bool) *Element[T] {
	for e := l.root.next; e != &l.root; e = e.next {
		if pred(e.value) {
			return e
		}
	}
	return nil
}

// Slice returns a snapshot copy of the list contents, front to back.
func (l *List[T]) Slice() []T {
	out := make([]T, 0, l.size)
	l.Each(func(v T) { out = append(out, v) })
	return out
}
