package machine

import (
	"github.com/cockroachdb/errors"

	"github.com/Joe-Degs/svcrt/internal/layout"
	"github.com/Joe-Degs/svcrt/internal/mmu"
)

// literals is the pool of read-only strings at the top of flash. It grows
// down towards the entry point, each distinct text is stored once.
type literals struct {
	floor mmu.VirtAddr
	next  mmu.VirtAddr
	index map[string]mmu.Slice
}

func newLiterals(l layout.Layout) literals {
	return literals{
		floor: mmu.VirtAddr(l.Flash),
		next:  mmu.VirtAddr(l.Flash + l.FlashSize),
		index: make(map[string]mmu.Slice),
	}
}

func (l literals) clone() literals {
	c := l
	c.index = make(map[string]mmu.Slice, len(l.index))
	for k, v := range l.index {
		c.index[k] = v
	}
	return c
}

// Literal returns s as NUL-terminated text in flash, placing it on first
// use.
func (p *Process) Literal(s string) (mmu.Slice, error) {
	if buf, ok := p.lits.index[s]; ok {
		return buf, nil
	}
	size := uint32(len(s) + 1)
	if uint64(p.lits.next)-uint64(p.lits.floor) < uint64(size) {
		return mmu.Slice{}, errors.Wrapf(ErrLiteralsFull, "%d bytes", size)
	}
	buf := mmu.Slice{Addr: p.lits.next - mmu.VirtAddr(size), Len: size}

	if err := p.Mmu.SetPermissions(buf.Addr, size, mmu.PERM_WRITE); err != nil {
		return mmu.Slice{}, err
	}
	if err := p.Mmu.WriteFrom(buf.Addr, append([]byte(s), 0)); err != nil {
		return mmu.Slice{}, err
	}
	if err := p.Mmu.SetPermissions(buf.Addr, size, mmu.PERM_READ); err != nil {
		return mmu.Slice{}, err
	}
	p.lits.next = buf.Addr
	p.lits.index[s] = buf
	return buf, nil
}
