package trap

import "fmt"

// Instruction is a 16-bit Thumb encoding.
type Instruction uint16

// SVC #imm8 is 1101 1111 iiii iiii. The 1101 prefix is shared with the
// conditional branch, condition 1111 selects the supervisor call.
const (
	svcMask   Instruction = 0xff00
	svcOpcode Instruction = 0xdf00
)

// Svc is a decoded supervisor call.
type Svc struct {
	imm uint8
}

// ID returns the trap identifier carried in the immediate.
func (s Svc) ID() ID { return ID(s.imm) }

// EncodeSvc builds the instruction that raises trap id.
func EncodeSvc(id ID) Instruction {
	return svcOpcode | Instruction(id)
}

// DecodeSvc extracts the immediate, ok is false when inst is not an SVC.
func DecodeSvc(inst Instruction) (svc Svc, ok bool) {
	if inst&svcMask != svcOpcode {
		return Svc{}, false
	}
	return Svc{imm: uint8(inst & 0xff)}, true
}

func (i Instruction) String() string {
	if s, ok := DecodeSvc(i); ok {
		return fmt.Sprintf("svc #%d", s.imm)
	}
	return fmt.Sprintf("%#04x", uint16(i))
}
