package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Joe-Degs/svcrt/internal/mmu"
)

func baseSymbols() map[string]uint64 {
	return map[string]uint64{
		SymFlash:     0x0,
		SymFlashSize: 0x8000,
		SymRam:       0x20000000,
		SymRamSize:   0x4000,
		SymStackSize: 0x1000,
	}
}

func TestDefault(t *testing.T) {
	l := Default()
	require.NoError(t, l.Validate())
	require.EqualValues(t, 0x20000000, l.HeapStart)
	require.EqualValues(t, 0x2000e000, l.HeapEnd)
	require.EqualValues(t, 0x20010000, l.StackTop())
}

func TestFromSymbolsWithHeapSymbols(t *testing.T) {
	syms := baseSymbols()
	syms[SymHeapStart] = 0x20000100
	syms[SymHeapEnd] = 0x20002000
	l, err := FromSymbols(syms, 0)
	require.NoError(t, err)
	require.Equal(t, mmu.VirtAddr(0x20000100), l.Heap().Start)
	require.Equal(t, mmu.VirtAddr(0x20002000), l.Heap().End)
	require.EqualValues(t, 0x1f00, l.Heap().Size())
}

func TestFromSymbolsDerivesHeap(t *testing.T) {
	l, err := FromSymbols(baseSymbols(), 0x20000123)
	require.NoError(t, err)
	require.EqualValues(t, 0x20000128, l.HeapStart)
	require.EqualValues(t, 0x20003000, l.HeapEnd)

	// no data in ram, heap starts at ram
	l, err = FromSymbols(baseSymbols(), 0)
	require.NoError(t, err)
	require.EqualValues(t, 0x20000000, l.HeapStart)
}

func TestFromSymbolsMissing(t *testing.T) {
	syms := baseSymbols()
	delete(syms, SymStackSize)
	_, err := FromSymbols(syms, 0)
	require.ErrorIs(t, err, ErrMissingSymbol)
	require.ErrorContains(t, err, SymStackSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(l *Layout)
	}{
		{"heap reversed", func(l *Layout) { l.HeapStart, l.HeapEnd = l.HeapEnd, l.HeapStart }},
		{"heap below ram", func(l *Layout) { l.HeapStart = l.Ram - 4 }},
		{"heap into stack", func(l *Layout) { l.HeapEnd = l.StackLimit() + 1 }},
		{"no ram", func(l *Layout) { l.RamSize = 0 }},
		{"stack larger than ram", func(l *Layout) { l.StackSize = l.RamSize + 1 }},
		{"ram wraps", func(l *Layout) { l.Ram = 0xffff0000; l.RamSize = 0x20000 }},
		{"flash overlaps ram", func(l *Layout) { l.FlashSize = 0x20000010 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Default()
			tt.modify(&l)
			require.ErrorIs(t, l.Validate(), ErrInvalid)
		})
	}
}

func TestParse(t *testing.T) {
	l, err := Parse([]byte(`
flash: 0x0
flashSize: 0x1000
ram: 0x20000000
ramSize: 0x1000
stackSize: 0x400
heapStart: 0x20000010
heapEnd: 0x20000100
`))
	require.NoError(t, err)
	require.EqualValues(t, 0x20000010, l.HeapStart)
	require.EqualValues(t, 0x20000100, l.HeapEnd)

	// heap bounds default to all of ram below the stack
	l, err = Parse([]byte("flashSize: 0x1000\nram: 0x20000000\nramSize: 0x1000\nstackSize: 0x400\n"))
	require.NoError(t, err)
	require.EqualValues(t, 0x20000000, l.HeapStart)
	require.EqualValues(t, 0x20000c00, l.HeapEnd)

	_, err = Parse([]byte("ram: [1, 2]"))
	require.Error(t, err)
}

func TestLoadRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, data, 0600))

	l, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), l)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFromELFNotAnELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.elf")
	require.NoError(t, os.WriteFile(path, []byte("not an elf"), 0600))
	_, err := FromELF(path)
	require.Error(t, err)
}
