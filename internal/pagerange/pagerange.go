// Package pagerange implements an on-demand, shrinkable range of pages
// backing a Process's mmap'd transaction buffer arena. Pages are only
// physically backed while some allocation is actively using them; the
// driver's page-reclaim path (modeled here, not the kernel's real
// shrinker) can drop the backing for pages nothing is using.
package pagerange

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

// Range manages page-granularity residency over a single anonymous mmap
// region. use_range/stop_using_range mirror binder_alloc's
// binder_install_buffer_pages/binder_alloc_free_page contract: a range
// must be installed (backed by real pages) before any allocation inside it
// is touched, and uninstalled again once every allocation vacating it has
// released its hold.
type Range struct {
	mu       sync.Mutex
	base     []byte // the full mmap'd region
	pageUse  []int  // refcount of live allocations touching each page
	numPages int
}

// New reserves size bytes (rounded up to a whole number of pages) of
// address space via an anonymous mmap and returns a Range managing it.
// Every page starts with a use count of zero.
func New(size int) (*Range, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pagerange: size must be positive, got %d", size)
	}
	numPages := (size + pageSize - 1) / pageSize
	length := numPages * pageSize

	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("pagerange: mmap: %w", err)
	}

	return &Range{
		base:     data,
		pageUse:  make([]int, numPages),
		numPages: numPages,
	}, nil
}

// Bytes returns the backing slice for the whole region. Callers index into
// it directly; Range only tracks residency, not allocation.
func (r *Range) Bytes() []byte { return r.base }

// Size returns the total size of the managed region in bytes.
func (r *Range) Size() int { return len(r.base) }

func (r *Range) pageSpan(offset, length int) (first, last int, err error) {
	if offset < 0 || length < 0 || offset+length > len(r.base) {
		return 0, 0, fmt.Errorf("pagerange: range [%d,%d) out of bounds (size=%d)", offset, offset+length, len(r.base))
	}
	if length == 0 {
		return 0, -1, nil
	}
	first = offset / pageSize
	last = (offset + length - 1) / pageSize
	return first, last, nil
}

// UseRange marks every page overlapping [offset, offset+length) as in use,
// incrementing a per-page refcount. Only the counts change: no page is
// touched or mapped here.
func (r *Range) UseRange(offset, length int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	first, last, err := r.pageSpan(offset, length)
	if err != nil {
		return err
	}
	for p := first; p <= last; p++ {
		r.pageUse[p]++
	}
	return nil
}

// StopUsingRange decrements the refcount for every page overlapping
// [offset, offset+length). Pages that drop to zero users become eligible
// for reclaim but are not evicted eagerly -- call Shrink to actually drop
// their backing, matching the shrinker's lazy, pressure-driven behavior.
func (r *Range) StopUsingRange(offset, length int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	first, last, err := r.pageSpan(offset, length)
	if err != nil {
		return err
	}
	for p := first; p <= last; p++ {
		if r.pageUse[p] > 0 {
			r.pageUse[p]--
		}
	}
	return nil
}

// Shrink evicts the backing of every currently-unused page via
// MADV_DONTNEED, returning the number of pages reclaimed. This is the
// userspace analogue of the kernel shrinker callback; it never touches
// pages with a nonzero use count.
func (r *Range) Shrink() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reclaimed := 0
	start := -1
	flush := func(end int) error {
		if start < 0 {
			return nil
		}
		off := start * pageSize
		length := (end - start) * pageSize
		if err := unix.Madvise(r.base[off:off+length], unix.MADV_DONTNEED); err != nil {
			return fmt.Errorf("pagerange: madvise: %w", err)
		}
		reclaimed += end - start
		start = -1
		return nil
	}
	for p := 0; p < r.numPages; p++ {
		if r.pageUse[p] == 0 {
			if start < 0 {
				start = p
			}
			continue
		}
		if err := flush(p); err != nil {
			return reclaimed, err
		}
	}
	if err := flush(r.numPages); err != nil {
		return reclaimed, err
	}
	return reclaimed, nil
}

// Close releases the mmap'd region entirely.
func (r *Range) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.base == nil {
		return nil
	}
	err := unix.Munmap(r.base)
	r.base = nil
	return err
}
