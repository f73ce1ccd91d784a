// Package layout resolves the memory map a guest program was linked
// against: where flash and RAM live, and the heap boundary symbols.
package layout

import (
	"debug/elf"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/Joe-Degs/svcrt/internal/heap"
	"github.com/Joe-Degs/svcrt/internal/mmu"
)

// Linker symbols read from the image.
const (
	SymFlash     = "__flash"
	SymFlashSize = "__flash_size"
	SymRam       = "__ram"
	SymRamSize   = "__ram_size"
	SymStackSize = "__stack_size"
	SymHeapStart = "__heap_start"
	SymHeapEnd   = "__heap_end"
)

var mandatorySymbols = []string{SymFlash, SymRam, SymFlashSize, SymRamSize, SymStackSize}

var (
	ErrMissingSymbol = errors.New("layout: missing symbol")
	ErrInvalid       = errors.New("layout: invalid")
)

// Layout is the address map of one program image.
type Layout struct {
	Flash     uint32 `yaml:"flash"`
	FlashSize uint32 `yaml:"flashSize"`
	Ram       uint32 `yaml:"ram"`
	RamSize   uint32 `yaml:"ramSize"`
	StackSize uint32 `yaml:"stackSize"`
	HeapStart uint32 `yaml:"heapStart"`
	HeapEnd   uint32 `yaml:"heapEnd"`
	// Entry is the first instruction, zero when unknown.
	Entry uint32 `yaml:"entry,omitempty"`
}

// Default is a small map used when nothing else is given: 64KiB flash,
// 64KiB RAM, 8KiB stack, the heap filling the rest of RAM.
func Default() Layout {
	l := Layout{
		Flash:     0x0,
		FlashSize: 0x10000,
		Ram:       0x20000000,
		RamSize:   0x10000,
		StackSize: 0x2000,
	}
	l.HeapStart = l.Ram
	l.HeapEnd = l.StackLimit()
	return l
}

// StackLimit is the lowest address the stack may grow down to.
func (l Layout) StackLimit() uint32 { return l.Ram + l.RamSize - l.StackSize }

// StackTop is the initial stack pointer.
func (l Layout) StackTop() uint32 { return l.Ram + l.RamSize }

// Heap returns the allocator region.
func (l Layout) Heap() heap.Region {
	return heap.Region{Start: mmu.VirtAddr(l.HeapStart), End: mmu.VirtAddr(l.HeapEnd)}
}

// Validate checks that the heap sits inside RAM below the stack.
func (l Layout) Validate() error {
	switch {
	case l.RamSize == 0:
		return errors.Wrap(ErrInvalid, "ram size is zero")
	case uint64(l.Ram)+uint64(l.RamSize) > 1<<32:
		return errors.Wrapf(ErrInvalid, "ram %#x+%#x overflows the address space", l.Ram, l.RamSize)
	case l.StackSize > l.RamSize:
		return errors.Wrapf(ErrInvalid, "stack size %#x exceeds ram size %#x", l.StackSize, l.RamSize)
	case l.HeapStart > l.HeapEnd:
		return errors.Wrapf(ErrInvalid, "heap start %#x is past heap end %#x", l.HeapStart, l.HeapEnd)
	case l.HeapStart < l.Ram || l.HeapEnd > l.StackLimit():
		return errors.Wrapf(ErrInvalid, "heap [%#x, %#x) is outside ram [%#x, %#x)",
			l.HeapStart, l.HeapEnd, l.Ram, l.StackLimit())
	case uint64(l.Flash)+uint64(l.FlashSize) > uint64(l.Ram):
		return errors.Wrapf(ErrInvalid, "flash [%#x, %#x) does not end below ram", l.Flash, uint64(l.Flash)+uint64(l.FlashSize))
	}
	return nil
}

// FromSymbols builds a layout from a linker symbol table. Without heap
// symbols the heap spans from dataEnd (rounded up to 8) to the stack limit.
func FromSymbols(syms map[string]uint64, dataEnd uint32) (Layout, error) {
	for _, name := range mandatorySymbols {
		if _, ok := syms[name]; !ok {
			return Layout{}, errors.Wrap(ErrMissingSymbol, name)
		}
	}
	l := Layout{
		Flash:     uint32(syms[SymFlash]),
		FlashSize: uint32(syms[SymFlashSize]),
		Ram:       uint32(syms[SymRam]),
		RamSize:   uint32(syms[SymRamSize]),
		StackSize: uint32(syms[SymStackSize]),
	}
	start, hasStart := syms[SymHeapStart]
	end, hasEnd := syms[SymHeapEnd]
	if hasStart {
		l.HeapStart = uint32(start)
	} else {
		l.HeapStart = (max32(dataEnd, l.Ram) + 7) &^ 7
	}
	if hasEnd {
		l.HeapEnd = uint32(end)
	} else {
		l.HeapEnd = l.StackLimit()
	}
	return l, l.Validate()
}

// FromELF reads the layout symbols out of an ELF image.
func FromELF(path string) (Layout, error) {
	f, err := elf.Open(path)
	if err != nil {
		return Layout{}, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		return Layout{}, errors.Wrapf(err, "reading symbols of %s", path)
	}
	syms := make(map[string]uint64, len(symbols))
	for _, s := range symbols {
		syms[s.Name] = s.Value
	}

	// end of initialized and zeroed data in RAM
	var dataEnd uint32
	ram := uint32(syms[SymRam])
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if end := uint32(p.Vaddr + p.Memsz); uint32(p.Vaddr) >= ram && end > dataEnd {
			dataEnd = end
		}
	}

	l, err := FromSymbols(syms, dataEnd)
	if err != nil {
		return l, errors.Wrapf(err, "layout of %s", filepath.Base(path))
	}
	// thumb entry points have the low bit set
	l.Entry = uint32(f.Entry) &^ 1
	return l, nil
}

// Load reads a YAML layout file. Missing heap bounds default to the whole
// RAM below the stack.
func Load(path string) (Layout, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Layout{}, errors.Wrap(err, "reading layout file")
	}
	return Parse(data)
}

// Parse decodes a YAML layout.
func Parse(data []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Layout{}, errors.Wrap(err, "decoding layout")
	}
	if l.HeapStart == 0 && l.HeapEnd == 0 {
		l.HeapStart = l.Ram
		l.HeapEnd = l.StackLimit()
	}
	return l, l.Validate()
}

// Marshal encodes l as YAML.
func (l Layout) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
