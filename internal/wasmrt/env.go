package wasmrt

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/Joe-Degs/svcrt/internal/heap"
	"github.com/Joe-Degs/svcrt/internal/mmu"
	"github.com/Joe-Degs/svcrt/internal/trap"
)

const (
	svcExit   = "svc_exit"
	svcPuts   = "svc_puts"
	svcGets   = "svc_gets"
	svcPutint = "svc_putint"
	sbrk      = "sbrk"

	heapBaseGlobal = "__heap_base"
	pageSize       = 65536
)

// guest is the per-run state behind the env module.
type guest struct {
	cfg  config
	host trap.Handler
	log  zerolog.Logger
	// created on the first sbrk, once the guest memory exists
	heap *heap.Allocator
}

func (g *guest) instantiateEnv(ctx context.Context, rt wazero.Runtime) (api.Module, error) {
	i32 := []api.ValueType{api.ValueTypeI32}
	return rt.NewHostModuleBuilder(envModule).
		NewFunctionBuilder().WithGoModuleFunction(g.trapFn(trap.TRAP_EXIT), i32, nil).Export(svcExit).
		NewFunctionBuilder().WithGoModuleFunction(g.trapFn(trap.TRAP_PUTS), i32, nil).Export(svcPuts).
		NewFunctionBuilder().WithGoModuleFunction(g.trapFn(trap.TRAP_GETS), i32, nil).Export(svcGets).
		NewFunctionBuilder().WithGoModuleFunction(g.trapFn(trap.TRAP_PUTINT), i32, nil).Export(svcPutint).
		NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(g.sbrk), i32, i32).Export(sbrk).
		Instantiate(ctx)
}

// bound is how many bytes the host may touch behind the pointer argument.
func (g *guest) bound(id trap.ID, m api.Module, addr uint32) uint32 {
	if m.Memory() == nil {
		return 0
	}
	size := m.Memory().Size()
	if addr >= size {
		return 0
	}
	switch id {
	case trap.TRAP_PUTS:
		return size - addr
	case trap.TRAP_GETS:
		if size-addr < g.cfg.lineMax {
			return size - addr
		}
		return g.cfg.lineMax
	}
	return 0
}

func (g *guest) trapFn(id trap.ID) api.GoModuleFunc {
	inst := trap.EncodeSvc(id)
	return func(ctx context.Context, m api.Module, stack []uint64) {
		arg := api.DecodeU32(stack[0])
		regs := &trap.Registers{}
		regs.Set(trap.ArgReg, arg)

		g.log.Debug().Stringer("inst", inst).Stringer("id", id).Uint32("r0", arg).Msg("trap")
		err := g.host.HandleTrap(trap.NewCall(inst, regs, linear{m.Memory()}, g.bound(id, m, arg)))

		var done trap.Done
		switch {
		case err == nil && id != trap.TRAP_EXIT:
			return
		case err == nil:
			done.Status = int(arg)
		case !errors.As(err, &done):
			panic(trap.Fault{Inst: inst, Cause: err})
		}
		code := uint32(done.Status)
		_ = m.CloseWithExitCode(ctx, code)
		// nothing after svc_exit may run
		panic(sys.NewExitError(code))
	}
}

func (g *guest) sbrk(ctx context.Context, m api.Module, stack []uint64) {
	increment := int64(api.DecodeI32(stack[0]))
	mem := m.Memory()
	if mem == nil {
		stack[0] = api.EncodeU32(uint32(heap.Failed))
		return
	}
	if g.heap == nil {
		h, err := heap.New(g.region(m))
		if err != nil {
			g.log.Warn().Err(err).Msg("heap region")
			stack[0] = api.EncodeU32(uint32(heap.Failed))
			return
		}
		g.heap = h
	}

	if increment > 0 && increment <= int64(g.heap.Remaining()) {
		need := uint64(g.heap.Cursor()) + uint64(increment)
		if need > uint64(mem.Size()) {
			pages := (need - uint64(mem.Size()) + pageSize - 1) / pageSize
			if _, ok := mem.Grow(uint32(pages)); !ok {
				g.log.Warn().Uint64("pages", pages).Msg("memory grow failed")
				stack[0] = api.EncodeU32(uint32(heap.Failed))
				return
			}
		}
	}
	stack[0] = api.EncodeI32(int32(g.heap.Sbrk(increment)))
}

// region puts the heap at the exported __heap_base, the configured base or
// the end of the current memory, in that order.
func (g *guest) region(m api.Module) heap.Region {
	base := uint64(m.Memory().Size())
	if g.cfg.heapBase != 0 {
		base = uint64(g.cfg.heapBase)
	}
	if hb := m.ExportedGlobal(heapBaseGlobal); hb != nil {
		base = uint64(api.DecodeU32(hb.Get()))
	}
	end := base + uint64(g.cfg.heapSize)
	if end > math.MaxUint32 {
		end = math.MaxUint32
	}
	return heap.Region{Start: mmu.VirtAddr(base), End: mmu.VirtAddr(end)}
}

func (g *guest) heapUsed() uint32 {
	if g.heap == nil {
		return 0
	}
	return g.heap.Used()
}
