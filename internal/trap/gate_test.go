package trap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Joe-Degs/svcrt/internal/host"
	"github.com/Joe-Degs/svcrt/internal/mmu"
	"github.com/Joe-Degs/svcrt/internal/trap"
)

func newGate(t *testing.T, h trap.Handler) (*trap.Gate, *trap.Registers, *mmu.Mmu) {
	t.Helper()
	m := mmu.NewMmu(0x100)
	require.NoError(t, m.SetPermissions(0, 0x100, mmu.PERM_READ|mmu.PERM_WRITE))
	regs := &trap.Registers{}
	return trap.NewGate(regs, m, h), regs, m
}

func TestWriteTextDeliversBytesAndTerminator(t *testing.T) {
	rec := host.NewRecorder()
	g, regs, m := newGate(t, rec)
	require.NoError(t, m.WriteFrom(0x40, []byte("hello\x00")))

	err := trap.Run(func() {
		g.WriteText(mmu.Slice{Addr: 0x40, Len: 6})
	})
	require.NoError(t, err)
	require.Len(t, rec.Calls, 1)
	require.Equal(t, trap.TRAP_PUTS, rec.Calls[0].ID)
	require.EqualValues(t, 0x40, rec.Calls[0].Arg)
	require.Equal(t, []byte{'h', 'e', 'l', 'l', 'o', 0}, rec.Calls[0].Text)
	require.EqualValues(t, 0x40, regs.Get(trap.R0))
	require.Equal(t, "hello", rec.Output.String())
}

func TestTerminateStopsTheCaller(t *testing.T) {
	rec := host.NewRecorder()
	g, _, _ := newGate(t, rec)

	after := false
	err := trap.Run(func() {
		g.Terminate(7)
		after = true
	})
	require.Equal(t, trap.Done{Status: 7}, err)
	require.False(t, after)
	require.True(t, rec.Exited)
	require.Equal(t, 7, rec.Status)
}

func TestTerminateDoesNotReturnWhenHostDoes(t *testing.T) {
	g, _, _ := newGate(t, trap.HandlerFunc(func(*trap.Call) error { return nil }))
	after := false
	err := trap.Run(func() {
		g.Terminate(3)
		after = true
	})
	require.Equal(t, trap.Done{Status: 3}, err)
	require.False(t, after)
}

func TestTrapIDIsTheImmediate(t *testing.T) {
	var seen []trap.Call
	g, _, m := newGate(t, trap.HandlerFunc(func(c *trap.Call) error {
		seen = append(seen, *c)
		return nil
	}))
	require.NoError(t, m.WriteFrom(0, []byte("x\x00")))

	require.NoError(t, trap.Run(func() {
		g.WriteText(mmu.Slice{Addr: 0, Len: 2})
		g.ReadLine(mmu.Slice{Addr: 0x10, Len: 4})
		g.WriteInt(-12)
	}))
	require.Len(t, seen, 3)
	require.Equal(t, trap.Instruction(0xdf01), seen[0].Inst)
	require.Equal(t, trap.Instruction(0xdf02), seen[1].Inst)
	require.Equal(t, trap.Instruction(0xdf03), seen[2].Inst)
	require.Equal(t, trap.TRAP_PUTINT, seen[2].ID())
	require.EqualValues(t, -12, seen[2].Int())
	require.EqualValues(t, 4, seen[1].Bound())
}

func TestWriteInt(t *testing.T) {
	rec := host.NewRecorder()
	g, _, _ := newGate(t, rec)
	require.NoError(t, trap.Run(func() {
		g.WriteInt(42)
		g.WriteInt(-1)
	}))
	require.Equal(t, "42-1", rec.Output.String())
	require.Equal(t, []trap.ID{trap.TRAP_PUTINT, trap.TRAP_PUTINT}, rec.IDs())
	require.EqualValues(t, 0xffffffff, rec.Calls[1].Arg)
}

func TestReadLineIsBounded(t *testing.T) {
	rec := host.NewRecorder("password123")
	g, _, m := newGate(t, rec)
	require.NoError(t, m.WriteFrom(0x20, []byte("zzzzzzzzzzzz")))

	require.NoError(t, trap.Run(func() {
		g.ReadLine(mmu.Slice{Addr: 0x20, Len: 8})
	}))
	buf := make([]byte, 12)
	require.NoError(t, m.ReadInto(0x20, buf))
	// seven bytes of input, the terminator, the rest untouched
	require.Equal(t, []byte("passwor\x00zzzz"), buf)
}

func TestGateRejectsBadBuffers(t *testing.T) {
	rec := host.NewRecorder("x")
	g, _, m := newGate(t, rec)
	require.NoError(t, m.WriteFrom(0x30, []byte("abcdef")))

	err := trap.Run(func() { g.WriteText(mmu.Slice{Addr: 0x30, Len: 4}) })
	var fault trap.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, trap.EncodeSvc(trap.TRAP_PUTS), fault.Inst)
	require.ErrorIs(t, err, trap.ErrUnterminated)

	err = trap.Run(func() { g.ReadLine(mmu.Slice{Addr: 0x30}) })
	require.ErrorIs(t, err, trap.ErrEmptyBuffer)

	err = trap.Run(func() { g.ReadLine(mmu.Slice{Addr: 0xf0, Len: 0x20}) })
	require.ErrorIs(t, err, mmu.ErrOutOfBounds)

	// nothing reached the host
	require.Empty(t, rec.Calls)
}

func TestHostFailureFaults(t *testing.T) {
	rec := host.NewRecorder()
	g, _, _ := newGate(t, rec)
	after := false
	err := trap.Run(func() {
		g.ReadLine(mmu.Slice{Addr: 0, Len: 4})
		after = true
	})
	var fault trap.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, trap.TRAP_GETS, rec.Calls[0].ID)
	require.False(t, after)
}

func TestRunRepanicsForeignPanics(t *testing.T) {
	require.PanicsWithValue(t, "boom", func() {
		_ = trap.Run(func() { panic("boom") })
	})
}

func TestDecodeSvc(t *testing.T) {
	svc, ok := trap.DecodeSvc(0xdf03)
	require.True(t, ok)
	require.Equal(t, trap.TRAP_PUTINT, svc.ID())

	// conditional branch, not a supervisor call
	_, ok = trap.DecodeSvc(0xd003)
	require.False(t, ok)

	require.Equal(t, "svc #1", trap.EncodeSvc(trap.TRAP_PUTS).String())
	require.Equal(t, "0xd003", trap.Instruction(0xd003).String())
}

func TestRecorderUnknownTrap(t *testing.T) {
	rec := host.NewRecorder()
	err := rec.HandleTrap(trap.NewCall(trap.EncodeSvc(9), &trap.Registers{}, mmu.NewMmu(1), 0))
	require.ErrorIs(t, err, trap.ErrUnknownTrap)
}
