// Package trap is the boundary between a guest program and its host. Every
// call places one argument in r0 and raises SVC with the trap id as the
// immediate; the host decodes the immediate and reads r0.
package trap

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/Joe-Degs/svcrt/internal/mmu"
)

// ID selects the host routine.
type ID uint8

const (
	TRAP_EXIT   ID = 0 // end the program, r0 holds the status
	TRAP_PUTS   ID = 1 // print the NUL-terminated text at r0
	TRAP_GETS   ID = 2 // read one line into the buffer at r0
	TRAP_PUTINT ID = 3 // print the signed integer in r0
)

var idNames = map[ID]string{
	TRAP_EXIT:   "exit",
	TRAP_PUTS:   "puts",
	TRAP_GETS:   "gets",
	TRAP_PUTINT: "putint",
}

func (id ID) String() string {
	if n, ok := idNames[id]; ok {
		return n
	}
	return fmt.Sprintf("trap(%d)", uint8(id))
}

var (
	ErrUnterminated = errors.New("trap: text is not NUL-terminated within its buffer")
	ErrEmptyBuffer  = errors.New("trap: empty line buffer")
	ErrUnknownTrap  = errors.New("trap: unknown trap id")
)

// Memory is the guest address space as seen through a trap.
type Memory interface {
	Contains(s mmu.Slice) bool
	ReadCString(addr mmu.VirtAddr, limit uint32) ([]byte, bool, error)
	WriteFrom(addr mmu.VirtAddr, buf []byte) error
}

// Handler is the host side of the gate. HandleTrap runs synchronously; the
// caller is blocked until it returns. Returning Done ends the program, any
// other error faults it.
type Handler interface {
	HandleTrap(c *Call) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c *Call) error

func (f HandlerFunc) HandleTrap(c *Call) error { return f(c) }

// Call is one trap as delivered to the host.
type Call struct {
	Inst Instruction
	Regs *Registers
	Mem  Memory

	// bound is the length of the caller's buffer. It never crosses the
	// wire; hosts only see it through Text and FillLine.
	bound uint32
}

// NewCall builds a call whose pointer argument is bounded by bound bytes.
func NewCall(inst Instruction, regs *Registers, mem Memory, bound uint32) *Call {
	return &Call{Inst: inst, Regs: regs, Mem: mem, bound: bound}
}

// ID decodes the trap id from the instruction immediate.
func (c *Call) ID() ID {
	svc, _ := DecodeSvc(c.Inst)
	return svc.ID()
}

// Arg is the raw content of the argument register.
func (c *Call) Arg() uint32 { return c.Regs.Get(ArgReg) }

// Int reads the argument as a signed integer.
func (c *Call) Int() int32 { return int32(c.Arg()) }

// Status reads the argument as an exit status.
func (c *Call) Status() int { return int(c.Arg()) }

// Addr reads the argument as a guest pointer.
func (c *Call) Addr() mmu.VirtAddr { return mmu.VirtAddr(c.Arg()) }

// Bound is the number of bytes the host may touch at Addr.
func (c *Call) Bound() uint32 { return c.bound }

// Text reads the string at Addr, without its terminator.
func (c *Call) Text() ([]byte, error) {
	s, ok, err := c.Mem.ReadCString(c.Addr(), c.bound)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrUnterminated, "%d bytes at %#x", c.bound, uint64(c.Addr()))
	}
	return s, nil
}

// FillLine stores line at Addr followed by a NUL. A line that does not fit
// is cut to Bound-1 bytes.
func (c *Call) FillLine(line []byte) error {
	if c.bound == 0 {
		return ErrEmptyBuffer
	}
	if uint32(len(line)) > c.bound-1 {
		line = line[:c.bound-1]
	}
	buf := make([]byte, len(line)+1)
	copy(buf, line)
	return c.Mem.WriteFrom(c.Addr(), buf)
}

// Done signals that the program asked to terminate.
type Done struct{ Status int }

func (d Done) Error() string {
	return fmt.Sprintf("exited with %d", d.Status)
}

// Fault stops the program when a trap could not be carried out.
type Fault struct {
	Inst  Instruction
	Cause error
}

func (f Fault) Error() string {
	return fmt.Sprintf("fault {%s, %s}", f.Inst, f.Cause)
}

func (f Fault) Unwrap() error { return f.Cause }
