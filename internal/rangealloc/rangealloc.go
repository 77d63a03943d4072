// Package rangealloc implements the free-space arena backing a Process's
// transaction buffer mmap region. Allocation follows a two-phase pattern
// modelled on binder_alloc: a caller first tries to satisfy the request
// from the existing free list under the arena's lock; if nothing fits, the
// lock is dropped while pooled scratch storage is taken, the lock is
// reacquired, and the free list is rechecked -- another goroutine may have
// freed space in the meantime -- before it is compacted under the lock and
// searched once more. The arena's size is fixed when it is created.
package rangealloc

import (
	"fmt"
	"sort"
	"sync"
)

// span is a maximal run of free bytes.
type span struct {
	offset int
	size   int
}

// Allocation describes a committed, in-use region of the arena.
type Allocation struct {
	Offset int
	Size   int
	// Target is opaque caller data (e.g. the owning Node/Thread) the
	// allocator never inspects; Process uses it to remember who a buffer
	// belongs to without a second side table.
	Target interface{}
}

// Arena is a first-fit free-space allocator over a fixed-size byte range
// (an mmap'd buffer arena in practice, see internal/pagerange).
type Arena struct {
	mu    sync.Mutex
	total int
	free  []span // kept sorted by offset, non-adjacent after each merge
	live  map[int]*Allocation

	// scratchPool recycles the []span slices ReserveNew's slow path uses
	// while compacting the free list, reusing storage rather than
	// reallocating it on every compaction.
	scratchPool sync.Pool
}

// New creates an Arena managing [0, total) bytes, entirely free.
func New(total int) *Arena {
	a := &Arena{
		total: total,
		free:  []span{{offset: 0, size: total}},
		live:  make(map[int]*Allocation),
	}
	a.scratchPool.New = func() any { s := make([]span, 0, 8); return &s }
	return a
}

// firstFit scans the free list for the first span able to hold size bytes.
// Returns its index, or -1.
func firstFit(free []span, size int) int {
	for i, s := range free {
		if s.size >= size {
			return i
		}
	}
	return -1
}

// ReserveNew allocates size bytes and associates target with the resulting
// Allocation. It mirrors binder_alloc's reserve_new: first try the fast
// path entirely under the lock; only if nothing fits do we drop the lock
// to take pooled scratch storage, then reacquire, re-validate, and compact
// the free list under the lock before committing.
func (a *Arena) ReserveNew(size int, target interface{}) (*Allocation, error) {
	if size <= 0 {
		return nil, fmt.Errorf("rangealloc: size must be positive, got %d", size)
	}

	a.mu.Lock()
	if idx := firstFit(a.free, size); idx >= 0 {
		alloc := a.commitLocked(idx, size, target)
		a.mu.Unlock()
		return alloc, nil
	}
	a.mu.Unlock()

	// Slow path: nothing fit. Take pooled scratch storage without holding
	// the lock (in the kernel this is where a page-backed extension would
	// be prepared); the defragmenting pass itself runs under the lock
	// below.
	scratchPtr := a.scratchPool.Get().(*[]span)
	defer a.scratchPool.Put(scratchPtr)

	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-check: another goroutine may have freed enough space while we
	// were preparing, or may have already compacted the list.
	if idx := firstFit(a.free, size); idx >= 0 {
		return a.commitLocked(idx, size, target), nil
	}

	merged := a.mergeLocked((*scratchPtr)[:0])
	a.free = merged
	if idx := firstFit(a.free, size); idx >= 0 {
		return a.commitLocked(idx, size, target), nil
	}

	return nil, fmt.Errorf("rangealloc: out of space for %d bytes (arena=%d)", size, a.total)
}

// commitLocked must be called with a.mu held; it carves size bytes out of
// free[idx] and records the resulting Allocation.
func (a *Arena) commitLocked(idx, size int, target interface{}) *Allocation {
	s := a.free[idx]
	alloc := &Allocation{Offset: s.offset, Size: size, Target: target}
	if s.size == size {
		a.free = append(a.free[:idx], a.free[idx+1:]...)
	} else {
		a.free[idx] = span{offset: s.offset + size, size: s.size - size}
	}
	a.live[alloc.Offset] = alloc
	return alloc
}

// mergeLocked returns a's free list sorted and with adjacent spans
// coalesced, writing into (and returning) the supplied scratch slice.
func (a *Arena) mergeLocked(scratch []span) []span {
	scratch = append(scratch, a.free...)
	sort.Slice(scratch, func(i, j int) bool { return scratch[i].offset < scratch[j].offset })

	out := scratch[:0]
	for _, s := range scratch {
		if n := len(out); n > 0 && out[n-1].offset+out[n-1].size == s.offset {
			out[n-1].size += s.size
		} else {
			out = append(out, s)
		}
	}
	result := make([]span, len(out))
	copy(result, out)
	return result
}

// Free releases a previously committed allocation at offset, returning it
// to the free list (coalescing with neighbors).
func (a *Arena) Free(offset int) (*Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	alloc, ok := a.live[offset]
	if !ok {
		return nil, fmt.Errorf("rangealloc: no live allocation at offset %d", offset)
	}
	delete(a.live, offset)

	a.free = append(a.free, span{offset: alloc.Offset, size: alloc.Size})
	scratchPtr := a.scratchPool.Get().(*[]span)
	a.free = a.mergeLocked((*scratchPtr)[:0])
	a.scratchPool.Put(scratchPtr)

	return alloc, nil
}

// Lookup returns the live Allocation starting at offset, if any.
func (a *Arena) Lookup(offset int) (*Allocation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	alloc, ok := a.live[offset]
	return alloc, ok
}

// FreeBytes returns the total number of currently unallocated bytes.
func (a *Arena) FreeBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, s := range a.free {
		total += s.size
	}
	return total
}

// Each calls fn for every live allocation. fn must not call back into the
// Arena; Each holds the lock for its duration.
func (a *Arena) Each(fn func(*Allocation)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, alloc := range a.live {
		fn(alloc)
	}
}
