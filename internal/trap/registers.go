package trap

import "fmt"

// Register is a single ARMv6-M core register
type Register uint8

// variants of the core registers
const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	Sp
	Lr
	Pc
)

// ArgReg carries the single trap argument.
const ArgReg = R0

var registerNames = [...]string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc",
}

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return fmt.Sprintf("Register(%d)", uint8(r))
}

// Registers is the register file shared by the caller and the host.
type Registers struct {
	regs [16]uint32
}

// Set the specified registers value
func (r *Registers) Set(reg Register, val uint32) { r.regs[reg&0xf] = val }

// Get returns the value in the specified register.
func (r *Registers) Get(reg Register) uint32 { return r.regs[reg&0xf] }

// Reset zeroes every register.
func (r *Registers) Reset() { r.regs = [16]uint32{} }

func (r *Registers) String() string {
	s := ""
	for i, v := range r.regs {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%#x", Register(i), v)
	}
	return s
}
