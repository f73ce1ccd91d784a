// Package heap is the bump allocator behind sbrk: a single cursor moving
// forward through a fixed region, nothing is ever handed back.
package heap

import (
	"github.com/cockroachdb/errors"

	"github.com/Joe-Degs/svcrt/internal/mmu"
)

// Failed is the address returned by Sbrk when the heap cannot satisfy a
// request. It is (void*)-1 on a 32-bit guest.
const Failed = ^mmu.VirtAddr(0)

var (
	ErrExhausted     = errors.New("heap: out of memory")
	ErrInvalidRegion = errors.New("heap: invalid region")
)

// Region is the half open range [Start, End) handed to the allocator by the
// link layout.
type Region struct {
	Start, End mmu.VirtAddr
}

func (r Region) Size() uint32 { return uint32(r.End - r.Start) }

type statistics struct {
	grows    uint64
	failures uint64
}

// Allocator keeps the program break. It is owned by exactly one process and
// is not safe for concurrent use.
type Allocator struct {
	region Region
	cursor mmu.VirtAddr
	mem    *mmu.Mmu
	stats  statistics
}

// New creates an allocator with the cursor at region.Start.
func New(region Region) (*Allocator, error) {
	if region.Start > region.End {
		return nil, errors.Wrapf(ErrInvalidRegion, "start %#x is past end %#x",
			uint64(region.Start), uint64(region.End))
	}
	return &Allocator{region: region, cursor: region.Start}, nil
}

// WithMemory makes every successful grow mark the new bytes in m as
// writable and uninitialized.
func (a *Allocator) WithMemory(m *mmu.Mmu) *Allocator {
	a.mem = m
	return a
}

// Sbrk advances the cursor by increment and returns the cursor as it was
// before the call. If the advance would pass the end of the region Failed
// is returned and the cursor does not move. A zero or negative increment
// returns the cursor unchanged; there is no shrinking.
func (a *Allocator) Sbrk(increment int64) mmu.VirtAddr {
	prev := a.cursor
	if increment <= 0 {
		return prev
	}
	if uint64(a.cursor)+uint64(increment) > uint64(a.region.End) {
		a.stats.failures++
		return Failed
	}
	a.cursor += mmu.VirtAddr(increment)
	a.stats.grows++
	if a.mem != nil {
		// the region was validated against the address space when the
		// process was built, so this cannot go out of bounds
		_ = a.mem.SetPermissions(prev, uint32(increment), mmu.PERM_RAW|mmu.PERM_WRITE)
	}
	return prev
}

// Grow is Sbrk with the failure reported as ErrExhausted.
func (a *Allocator) Grow(increment int64) (mmu.VirtAddr, error) {
	p := a.Sbrk(increment)
	if p == Failed {
		return 0, errors.Wrapf(ErrExhausted, "grow by %d with %d bytes left", increment, a.Remaining())
	}
	return p, nil
}

// Alloc returns a fresh slice of size bytes.
func (a *Allocator) Alloc(size uint32) (mmu.Slice, error) {
	p, err := a.Grow(int64(size))
	if err != nil {
		return mmu.Slice{}, err
	}
	return mmu.Slice{Addr: p, Len: size}, nil
}

// Cursor returns the current program break.
func (a *Allocator) Cursor() mmu.VirtAddr { return a.cursor }

func (a *Allocator) Region() Region { return a.region }

// Used returns the number of bytes handed out so far.
func (a *Allocator) Used() uint32 { return uint32(a.cursor - a.region.Start) }

// Remaining returns the number of bytes left before the end of the region.
func (a *Allocator) Remaining() uint32 { return uint32(a.region.End - a.cursor) }

// Grows counts successful positive grow requests.
func (a *Allocator) Grows() uint64 { return a.stats.grows }

// Failures counts grow requests rejected for lack of space.
func (a *Allocator) Failures() uint64 { return a.stats.failures }

// Clone copies the allocator state. The copy is bound to m.
func (a *Allocator) Clone(m *mmu.Mmu) *Allocator {
	c := *a
	c.mem = m
	return &c
}
