package mmu

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Perm represent permissions of memory addresses
type Perm uint8

// Enum of permission variants supported an another variant for keeping
// track of modified memory locations.
const (
	PERM_READ  Perm = 1 << 0 // read permission
	PERM_WRITE Perm = 1 << 1 // write permission
	PERM_EXEC  Perm = 1 << 2 // executable permission
	PERM_RAW   Perm = 1 << 3 // read-after-write permission

	DIRTY_BLOCK_SIZE = 0x7f
)

var (
	ErrMemIONotPermitted = errors.New("mmu: memory inaccessible")
	ErrOutOfBounds       = errors.New("mmu: address out of bounds")
)

// VirtAddr is a guest virtual address
type VirtAddr uint32

// Slice is a bounded guest buffer. The trap ABI only transmits Addr, Len
// stays on the host side of the boundary.
type Slice struct {
	Addr VirtAddr
	Len  uint32
}

// End returns the first address past the slice.
func (s Slice) End() uint64 { return uint64(s.Addr) + uint64(s.Len) }

func (s Slice) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(s.Addr), s.End())
}

// Block is a block of memory, it maps the start of the block to the end
// of the block
type Block = map[VirtAddr]VirtAddr

// Mmu is an isolated memory space. It backs two virtual windows with one
// blob: [0, low) maps to itself and [base, base+len-low) follows it.
type Mmu struct {
	// memory is blob of memory space available to the system
	memory []uint8

	base VirtAddr
	low  uint32

	// access restrictions on individual locations in memory
	permissions []Perm

	// map of modified blocks of memory
	dirty Block
}

// NewMmu creates a flat address space of size bytes starting at 0.
func NewMmu(size uint32) *Mmu {
	return &Mmu{
		memory:      make([]uint8, size),
		permissions: make([]Perm, size),
		dirty:       make(Block),
	}
}

// NewMapped creates an address space with lowSize bytes at 0 (flash) and
// highSize bytes at base (ram).
func NewMapped(lowSize uint32, base VirtAddr, highSize uint32) *Mmu {
	m := NewMmu(lowSize + highSize)
	m.base = base
	m.low = lowSize
	return m
}

// Size of the backing memory in bytes.
func (m *Mmu) Size() uint32 { return uint32(len(m.memory)) }

// Contains reports whether the whole slice lies inside one window of the
// address space.
func (m *Mmu) Contains(s Slice) bool {
	_, _, err := m.span(s.Addr, int(s.Len))
	return err == nil
}

// span translates [addr, addr+size) into indexes of the backing memory.
func (m *Mmu) span(addr VirtAddr, size int) (int, int, error) {
	var start, limit int
	switch {
	case addr >= m.base:
		start = int(addr-m.base) + int(m.low)
		limit = len(m.memory)
	case uint32(addr) < m.low:
		start = int(addr)
		limit = int(m.low)
	default:
		return 0, 0, errors.Wrapf(ErrOutOfBounds, "%#x is unmapped", uint64(addr))
	}
	end := start + size
	if size < 0 || end > limit || end < start {
		return 0, 0, errors.Wrapf(ErrOutOfBounds, "%#x+%d", uint64(addr), size)
	}
	return start, end, nil
}

// available is the number of mapped bytes from addr to the end of its window.
func (m *Mmu) available(addr VirtAddr) uint32 {
	start, _, err := m.span(addr, 0)
	if err != nil {
		return 0
	}
	if addr < m.base {
		return uint32(int(m.low) - start)
	}
	return uint32(len(m.memory) - start)
}

// Reset restores all memory back to the original state.
func (m *Mmu) Reset(other *Mmu) {
	for addr, endAddr := range m.dirty {
		start := int(addr)
		end := int(endAddr) + 1
		if end > len(m.memory) {
			end = len(m.memory)
		}

		// restore memory state
		copy(m.memory[start:end], other.memory[start:end])
		// restore permissions
		copy(m.permissions[start:end], other.permissions[start:end])
	}
	// clear dirty list
	m.dirty = make(Block)
}

// Fork an existing Mmu
func (m *Mmu) Fork() *Mmu {
	return &Mmu{
		memory:      append(make([]uint8, 0, len(m.memory)), m.memory...),
		base:        m.base,
		low:         m.low,
		permissions: append(make([]Perm, 0, len(m.permissions)), m.permissions...),
		dirty:       make(Block),
	}
}

// SetPermission sets the required permissions on memory locations starting
// from the	`addr` to `addr+size`
func (m *Mmu) SetPermissions(addr VirtAddr, size uint32, perm Perm) error {
	start, end, err := m.span(addr, int(size))
	if err != nil {
		return err
	}
	for i := start; i < end; i++ {
		m.permissions[i] = perm
	}
	m.markDirty(start, end-start)
	return nil
}

// WriteFrom copies the buffer `buf` into memory checking the necessary
// permission before doing so
func (m *Mmu) WriteFrom(addr VirtAddr, buf []uint8) error {
	start, end, err := m.span(addr, len(buf))
	if err != nil {
		return err
	}
	//get the permission on the region of memory to write to
	perms := m.permissions[start:end]

	hasRAW := false
	for _, p := range perms {
		// check if any part of the memory has is read-after-write
		hasRAW = hasRAW || ((p & PERM_RAW) != 0)

		// check if all perms are set to write
		if (p & PERM_WRITE) == 0 {
			return errors.Wrapf(ErrMemIONotPermitted, "write %#x+%d", uint64(addr), len(buf))
		}
	}

	n := copy(m.memory[start:end], buf)

	// update permissions and allow reading after writing
	if hasRAW {
		for i, p := range perms {
			if (p & PERM_RAW) != 0 {
				perms[i] |= PERM_READ
			}
		}
	}
	m.markDirty(start, n)
	return nil
}

// markDirty records the aligned blocks covering [start, start+n) so Reset
// only restores what was touched.
func (m *Mmu) markDirty(start, n int) {
	if n == 0 {
		return
	}
	round := DIRTY_BLOCK_SIZE + 1
	blockStart := start &^ DIRTY_BLOCK_SIZE
	blockEnd := ((start + n + DIRTY_BLOCK_SIZE) &^ DIRTY_BLOCK_SIZE) - 1
	for b := blockStart; b <= blockEnd; b += round {
		m.dirty[VirtAddr(b)] = VirtAddr(b + round - 1)
	}
}

// ReadIntoPerms reads data of `len(buf)` from memory into buf only if the region
// of memory been read has `perm` set on it
func (m *Mmu) ReadIntoPerms(addr VirtAddr, buf []uint8, perm Perm) error {
	start, end, err := m.span(addr, len(buf))
	if err != nil {
		return err
	}
	for _, p := range m.permissions[start:end] {
		if (p & perm) != perm {
			return errors.Wrapf(ErrMemIONotPermitted, "read %#x+%d", uint64(addr), len(buf))
		}
	}
	copy(buf, m.memory[start:end])
	return nil
}

// ReadInto reads data of `len(buf)` from readable memory starting at addr into buf
func (m *Mmu) ReadInto(addr VirtAddr, buf []uint8) error {
	return m.ReadIntoPerms(addr, buf, PERM_READ)
}

// ReadCString reads bytes starting at addr up to and excluding the first NUL.
// At most limit bytes are examined; ok is false when no NUL was found within
// them.
func (m *Mmu) ReadCString(addr VirtAddr, limit uint32) (s []byte, ok bool, err error) {
	if avail := m.available(addr); limit > avail {
		limit = avail
	}
	b := make([]byte, 1)
	for i := uint32(0); i < limit; i++ {
		if err := m.ReadInto(addr+VirtAddr(i), b); err != nil {
			return s, false, err
		}
		if b[0] == 0 {
			return s, true, nil
		}
		s = append(s, b[0])
	}
	return s, false, nil
}

// ReadUint32 reads a little endian word.
func (m *Mmu) ReadUint32(addr VirtAddr) (uint32, error) {
	buf := make([]byte, 4)
	if err := m.ReadInto(addr, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// WriteUint32 writes a little endian word.
func (m *Mmu) WriteUint32(addr VirtAddr, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return m.WriteFrom(addr, buf)
}
