// Package machine builds a guest process out of a link layout: the address
// space, the register file, the trap gate and the program break, and runs
// programs against it.
package machine

import (
	"github.com/cockroachdb/errors"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"github.com/Joe-Degs/svcrt/internal/heap"
	"github.com/Joe-Degs/svcrt/internal/layout"
	"github.com/Joe-Degs/svcrt/internal/mmu"
	"github.com/Joe-Degs/svcrt/internal/trap"
)

var (
	ErrNotForked    = errors.New("machine: process was not forked")
	ErrLiteralsFull = errors.New("machine: no room for literals in flash")
)

// Program is a guest program. It talks to the host only through the
// process it is handed.
type Program func(p *Process)

// Process keeps the state of one guest program.
type Process struct {
	*trap.Gate

	Mmu  *mmu.Mmu
	Regs *trap.Registers
	Heap *heap.Allocator

	layout layout.Layout
	host   trap.Handler
	log    zerolog.Logger

	lits literals

	// state captured by Fork, Reset returns to it
	parent    *mmu.Mmu
	savedRegs trap.Registers
	savedHeap *heap.Allocator
	savedLits literals
}

type Option func(*Process)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Process) { p.log = l }
}

// This is what a process looks like in memory
//
//	+---------------+-> stack top (ram + ram size)
//	|     stack     |
//	+---------------+-> stack limit
//	|   (unused)    |
//	+---------------+-> heap end
//	|     heap      |
//	+---------------+-> heap start
//	|  static data  |
//	+---------------+-> ram
//	      ...
//	+---------------+-> flash + flash size
//	|  code, rodata |
//	+---------------+-> flash
//
// New creates a process for l. Heap bytes only become accessible once the
// program break moves over them.
func New(l layout.Layout, host trap.Handler, opts ...Option) (*Process, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if host == nil {
		return nil, errors.New("machine: host is nil")
	}

	m := mmu.NewMapped(l.Flash+l.FlashSize, mmu.VirtAddr(l.Ram), l.RamSize)
	if err := m.SetPermissions(mmu.VirtAddr(l.Flash), l.FlashSize, mmu.PERM_READ|mmu.PERM_EXEC); err != nil {
		return nil, errors.Wrap(err, "mapping flash")
	}
	if err := m.SetPermissions(mmu.VirtAddr(l.Ram), l.HeapStart-l.Ram, mmu.PERM_READ|mmu.PERM_WRITE); err != nil {
		return nil, errors.Wrap(err, "mapping static data")
	}
	if err := m.SetPermissions(mmu.VirtAddr(l.StackLimit()), l.StackSize, mmu.PERM_READ|mmu.PERM_WRITE); err != nil {
		return nil, errors.Wrap(err, "mapping stack")
	}

	h, err := heap.New(l.Heap())
	if err != nil {
		return nil, err
	}

	p := &Process{
		Mmu:    m,
		Regs:   &trap.Registers{},
		Heap:   h.WithMemory(m),
		lits:   newLiterals(l),
		layout: l,
		host:   host,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Regs.Set(trap.Sp, l.StackTop())
	p.Regs.Set(trap.Pc, l.Entry)
	p.Gate = trap.NewGate(p.Regs, m, traced{host: host, log: p.log})
	return p, nil
}

// Layout returns the memory map the process was built from.
func (p *Process) Layout() layout.Layout { return p.layout }

// Run executes program until it returns or terminates. A program that
// returns on its own exits with status 0. err is only set when a trap
// faulted.
func (p *Process) Run(program Program) (status int, err error) {
	p.log.Debug().Uint32("heap_start", p.layout.HeapStart).Uint32("heap_end", p.layout.HeapEnd).Msg("run")

	err = trap.Run(func() { program(p) })

	var done trap.Done
	switch {
	case err == nil:
		p.log.Debug().Msg("program returned")
		return 0, nil
	case errors.As(err, &done):
		p.log.Debug().Int("status", done.Status).Uint32("heap_used", p.Heap.Used()).Msg("exit")
		return done.Status, nil
	}
	p.log.Error().Err(err).Msg("program faulted")
	return -1, err
}

// Fork creates an independent copy of the process. Reset on the copy
// brings it back to this point.
func (p *Process) Fork() *Process {
	child := &Process{
		Mmu:    p.Mmu.Fork(),
		Regs:   &trap.Registers{},
		lits:   p.lits.clone(),
		layout: p.layout,
		host:   p.host,
		log:    p.log,
		parent: p.Mmu,
	}
	child.savedLits = p.lits.clone()
	*child.Regs = *p.Regs
	child.savedRegs = *p.Regs
	child.savedHeap = p.Heap.Clone(nil)
	child.Heap = p.Heap.Clone(child.Mmu)
	child.Gate = trap.NewGate(child.Regs, child.Mmu, traced{host: p.host, log: p.log})
	return child
}

// Reset restores memory, registers and the program break of a forked
// process. The parent must not have changed since the fork.
func (p *Process) Reset() error {
	if p.parent == nil {
		return ErrNotForked
	}
	p.Mmu.Reset(p.parent)
	*p.Regs = p.savedRegs
	p.Heap = p.savedHeap.Clone(p.Mmu)
	p.lits = p.savedLits.clone()
	return nil
}

// CString places s followed by a NUL on the heap.
func (p *Process) CString(s string) (mmu.Slice, error) {
	buf, err := p.Heap.Alloc(uint32(len(s) + 1))
	if err != nil {
		return mmu.Slice{}, err
	}
	if err := p.Mmu.WriteFrom(buf.Addr, append([]byte(s), 0)); err != nil {
		return mmu.Slice{}, err
	}
	return buf, nil
}

// Buffer reserves n uninitialized bytes on the heap.
func (p *Process) Buffer(n uint32) (mmu.Slice, error) {
	return p.Heap.Alloc(n)
}

// ReadString reads the NUL-terminated text held in s.
func (p *Process) ReadString(s mmu.Slice) (string, error) {
	b, ok, err := p.Mmu.ReadCString(s.Addr, s.Len)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Wrapf(trap.ErrUnterminated, "%s", s)
	}
	return string(b), nil
}

// Puts is WriteText for a Go string literal. The text lives in read-only
// flash and is placed there once, so Puts never grows the heap. A full
// literal pool faults the program like any other trap failure.
func (p *Process) Puts(s string) {
	buf, err := p.Literal(s)
	if err != nil {
		p.fault(trap.TRAP_PUTS, err)
	}
	p.WriteText(buf)
}

func (p *Process) fault(id trap.ID, err error) {
	trap.Raise(trap.Fault{Inst: trap.EncodeSvc(id), Cause: err})
}

type state struct {
	Registers string
	Layout    layout.Layout
	Heap      heap.Region
	Cursor    mmu.VirtAddr
	Used      uint32
	Remaining uint32
	Failures  uint64
}

// Dump renders the process state for diagnostics.
func (p *Process) Dump() string {
	cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true}
	return cfg.Sdump(state{
		Registers: p.Regs.String(),
		Layout:    p.layout,
		Heap:      p.Heap.Region(),
		Cursor:    p.Heap.Cursor(),
		Used:      p.Heap.Used(),
		Remaining: p.Heap.Remaining(),
		Failures:  p.Heap.Failures(),
	})
}

// traced logs every trap before handing it to the host.
type traced struct {
	host trap.Handler
	log  zerolog.Logger
}

func (t traced) HandleTrap(c *trap.Call) error {
	t.log.Debug().Stringer("inst", c.Inst).Stringer("id", c.ID()).Uint32("r0", c.Arg()).Msg("trap")
	return t.host.HandleTrap(c)
}
