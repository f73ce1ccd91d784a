package trap

import (
	"github.com/cockroachdb/errors"

	"github.com/Joe-Degs/svcrt/internal/mmu"
)

// Gate issues traps on behalf of a guest program. Each wrapper loads one
// register and raises one SVC; nothing is returned to the caller. A trap the
// host rejects unwinds the program back to Run.
type Gate struct {
	regs *Registers
	mem  Memory
	host Handler
}

func NewGate(regs *Registers, mem Memory, host Handler) *Gate {
	return &Gate{regs: regs, mem: mem, host: host}
}

// halt carries the reason a program stopped up to Run.
type halt struct{ err error }

// Run calls program and returns how it stopped: nil when it returned on its
// own, Done after Terminate, Fault when a trap failed.
func Run(program func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h, ok := r.(halt)
			if !ok {
				panic(r)
			}
			err = h.err
		}
	}()
	program()
	return nil
}

// Raise stops the running program with err, as if a trap had failed.
func Raise(err error) { panic(halt{err}) }

func (g *Gate) stop(inst Instruction, err error) {
	var done Done
	if errors.As(err, &done) {
		panic(halt{done})
	}
	panic(halt{Fault{Inst: inst, Cause: err}})
}

func (g *Gate) svc(id ID, arg uint32, bound uint32) {
	inst := EncodeSvc(id)
	g.regs.Set(ArgReg, arg)
	if err := g.host.HandleTrap(NewCall(inst, g.regs, g.mem, bound)); err != nil {
		g.stop(inst, err)
	}
}

// Terminate ends the program with code. It does not return.
func (g *Gate) Terminate(code uint32) {
	g.svc(TRAP_EXIT, code, 0)
	panic(halt{Done{Status: int(code)}})
}

// WriteText prints the NUL-terminated text held in s. The terminator has
// to lie inside s.
func (g *Gate) WriteText(s mmu.Slice) {
	inst := EncodeSvc(TRAP_PUTS)
	if err := g.checkBounds(s); err != nil {
		g.stop(inst, err)
	}
	if _, ok, err := g.mem.ReadCString(s.Addr, s.Len); err != nil || !ok {
		if err == nil {
			err = errors.Wrapf(ErrUnterminated, "%s", s)
		}
		g.stop(inst, err)
	}
	g.svc(TRAP_PUTS, uint32(s.Addr), s.Len)
}

// ReadLine asks the host for one line of input stored NUL-terminated in
// buf. The host never writes past buf.
func (g *Gate) ReadLine(buf mmu.Slice) {
	inst := EncodeSvc(TRAP_GETS)
	if buf.Len == 0 {
		g.stop(inst, ErrEmptyBuffer)
	}
	if err := g.checkBounds(buf); err != nil {
		g.stop(inst, err)
	}
	g.svc(TRAP_GETS, uint32(buf.Addr), buf.Len)
}

// WriteInt prints n.
func (g *Gate) WriteInt(n int32) {
	g.svc(TRAP_PUTINT, uint32(n), 0)
}

func (g *Gate) checkBounds(s mmu.Slice) error {
	if !g.mem.Contains(s) {
		return errors.Wrapf(mmu.ErrOutOfBounds, "%s", s)
	}
	return nil
}
