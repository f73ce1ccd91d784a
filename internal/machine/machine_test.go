package machine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Joe-Degs/svcrt/internal/heap"
	"github.com/Joe-Degs/svcrt/internal/host"
	"github.com/Joe-Degs/svcrt/internal/layout"
	"github.com/Joe-Degs/svcrt/internal/mmu"
	"github.com/Joe-Degs/svcrt/internal/trap"
)

func newProcess(t *testing.T, rec *host.Recorder) *Process {
	t.Helper()
	p, err := New(layout.Default(), rec)
	require.NoError(t, err)
	return p
}

func TestNewInitialState(t *testing.T) {
	l := layout.Default()
	p := newProcess(t, host.NewRecorder())

	require.Equal(t, l.StackTop(), p.Regs.Get(trap.Sp))
	require.Equal(t, mmu.VirtAddr(l.HeapStart), p.Heap.Cursor())
	require.Equal(t, l, p.Layout())

	// stack is usable, heap is not until the break moves
	require.NoError(t, p.Mmu.WriteUint32(mmu.VirtAddr(l.StackTop()-4), 1))
	require.ErrorIs(t, p.Mmu.WriteUint32(mmu.VirtAddr(l.HeapStart), 1), mmu.ErrMemIONotPermitted)
}

func TestNewRejects(t *testing.T) {
	l := layout.Default()
	l.HeapEnd = l.StackTop()
	_, err := New(l, host.NewRecorder())
	require.ErrorIs(t, err, layout.ErrInvalid)

	_, err = New(layout.Default(), nil)
	require.Error(t, err)
}

func TestRunStatus(t *testing.T) {
	rec := host.NewRecorder()
	p := newProcess(t, rec)

	status, err := p.Run(func(p *Process) {
		p.Puts("hi\n")
		p.Terminate(7)
		p.Puts("unreachable\n")
	})
	require.NoError(t, err)
	require.Equal(t, 7, status)
	require.Equal(t, "hi\n", rec.Output.String())
	require.Equal(t, []trap.ID{trap.TRAP_PUTS, trap.TRAP_EXIT}, rec.IDs())
}

func TestRunReturnIsSuccess(t *testing.T) {
	p := newProcess(t, host.NewRecorder())
	status, err := p.Run(func(*Process) {})
	require.NoError(t, err)
	require.Zero(t, status)
}

func TestRunFault(t *testing.T) {
	rec := host.NewRecorder() // no input scripted
	p := newProcess(t, rec)

	status, err := p.Run(func(p *Process) {
		buf, err := p.Buffer(8)
		require.NoError(t, err)
		p.ReadLine(buf)
	})
	require.Equal(t, -1, status)
	var fault trap.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, trap.EncodeSvc(trap.TRAP_GETS), fault.Inst)
}

func TestPutsUsesFlashLiterals(t *testing.T) {
	rec := host.NewRecorder()
	p := newProcess(t, rec)

	status, err := p.Run(func(p *Process) {
		for i := 0; i < 5000; i++ {
			p.Puts("again\n")
		}
		p.Puts("done\n")
	})
	require.NoError(t, err)
	require.Zero(t, status)
	require.Zero(t, p.Heap.Used())
	require.Equal(t, strings.Repeat("again\n", 5000)+"done\n", rec.Output.String())

	lit, err := p.Literal("again\n")
	require.NoError(t, err)
	l := p.Layout()
	require.Equal(t, mmu.VirtAddr(l.Flash+l.FlashSize-7), lit.Addr)
	got, err := p.ReadString(lit)
	require.NoError(t, err)
	require.Equal(t, "again\n", got)

	// flash is read-only to the program
	require.ErrorIs(t, p.Mmu.WriteFrom(lit.Addr, []byte("x")), mmu.ErrMemIONotPermitted)
}

func TestPutsWithExhaustedHeap(t *testing.T) {
	l := layout.Default()
	l.HeapEnd = l.HeapStart
	p, err := New(l, host.NewRecorder())
	require.NoError(t, err)

	status, err := p.Run(func(p *Process) {
		_, err := p.Buffer(1)
		require.ErrorIs(t, err, heap.ErrExhausted)
		p.Puts("still printing\n")
	})
	require.NoError(t, err)
	require.Zero(t, status)
}

func TestLiteralPoolFull(t *testing.T) {
	l := layout.Default()
	l.FlashSize = 8
	p, err := New(l, host.NewRecorder())
	require.NoError(t, err)

	status, err := p.Run(func(p *Process) { p.Puts("too long for flash\n") })
	require.Equal(t, -1, status)
	require.ErrorIs(t, err, ErrLiteralsFull)
}

func TestCString(t *testing.T) {
	p := newProcess(t, host.NewRecorder())

	s, err := p.CString("abc")
	require.NoError(t, err)
	require.Equal(t, uint32(4), s.Len)
	require.Equal(t, mmu.VirtAddr(p.Layout().HeapStart), s.Addr)

	got, err := p.ReadString(s)
	require.NoError(t, err)
	require.Equal(t, "abc", got)

	buf, err := p.Buffer(3)
	require.NoError(t, err)
	require.NoError(t, p.Mmu.WriteFrom(buf.Addr, []byte("xyz")))
	_, err = p.ReadString(buf)
	require.ErrorIs(t, err, trap.ErrUnterminated)
}

func TestForkReset(t *testing.T) {
	rec := host.NewRecorder()
	parent := newProcess(t, rec)
	base, err := parent.CString("base")
	require.NoError(t, err)

	child := parent.Fork()
	cursor := child.Heap.Cursor()

	status, err := child.Run(func(p *Process) {
		require.NoError(t, p.Mmu.WriteFrom(base.Addr, []byte("next")))
		_, err := p.Buffer(8)
		require.NoError(t, err)
		p.Puts("grown\n")
		p.Terminate(3)
	})
	require.NoError(t, err)
	require.Equal(t, 3, status)
	require.Greater(t, uint32(child.Heap.Cursor()), uint32(cursor))

	// parent memory is untouched
	got, err := parent.ReadString(base)
	require.NoError(t, err)
	require.Equal(t, "base", got)

	placed, err := child.Literal("grown\n")
	require.NoError(t, err)

	require.NoError(t, child.Reset())
	require.Equal(t, cursor, child.Heap.Cursor())
	// the literal pool is rolled back with the memory holding it
	again, err := child.Literal("grown\n")
	require.NoError(t, err)
	require.Equal(t, placed, again)
	got, err = child.ReadString(again)
	require.NoError(t, err)
	require.Equal(t, "grown\n", got)
	got, err = child.ReadString(base)
	require.NoError(t, err)
	require.Equal(t, "base", got)
	require.Equal(t, parent.Layout().StackTop(), child.Regs.Get(trap.Sp))

	require.ErrorIs(t, parent.Reset(), ErrNotForked)
}

func TestDump(t *testing.T) {
	p := newProcess(t, host.NewRecorder())
	_, err := p.Buffer(16)
	require.NoError(t, err)

	out := p.Dump()
	require.Contains(t, out, "Cursor")
	require.Contains(t, out, "Used: (uint32) 16")
}
