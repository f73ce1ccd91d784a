package wasmrt

import (
	"github.com/cockroachdb/errors"
	"github.com/tetratelabs/wazero/api"

	"github.com/Joe-Degs/svcrt/internal/mmu"
)

// linear adapts a guest's linear memory to trap.Memory. Wasm memory has no
// permissions, every byte below Size is readable and writable.
type linear struct {
	mem api.Memory
}

func (l linear) Contains(s mmu.Slice) bool {
	return l.mem != nil && s.End() <= uint64(l.mem.Size())
}

func (l linear) ReadCString(addr mmu.VirtAddr, limit uint32) ([]byte, bool, error) {
	if l.mem == nil || uint32(addr) >= l.mem.Size() {
		return nil, false, errors.Wrapf(mmu.ErrOutOfBounds, "read %#x", uint64(addr))
	}
	if avail := l.mem.Size() - uint32(addr); limit > avail {
		limit = avail
	}
	buf, _ := l.mem.Read(uint32(addr), limit)
	for i, b := range buf {
		if b == 0 {
			return append([]byte(nil), buf[:i]...), true, nil
		}
	}
	return append([]byte(nil), buf...), false, nil
}

func (l linear) WriteFrom(addr mmu.VirtAddr, buf []byte) error {
	if l.mem == nil || !l.mem.Write(uint32(addr), buf) {
		return errors.Wrapf(mmu.ErrOutOfBounds, "write %#x+%d", uint64(addr), len(buf))
	}
	return nil
}
