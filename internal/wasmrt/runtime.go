// Package wasmrt runs guest programs compiled to WebAssembly. The guest
// imports the trap table and sbrk from the host module "env"; each import
// takes its single argument the way r0 carries it on the board.
package wasmrt

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"

	"github.com/Joe-Degs/svcrt/internal/trap"
)

const (
	envModule = "env"

	DefaultHeapSize = 64 * 1024
	DefaultLineMax  = 128
	DefaultEntry    = "_start"
)

type (
	Runtime struct {
		host trap.Handler
		cfg  config
		log  zerolog.Logger
	}

	config struct {
		heapBase uint32
		heapSize uint32
		lineMax  uint32
		entry    string
	}

	Option func(*Runtime)
)

// WithHeapSize sets how many bytes sbrk may hand out.
func WithHeapSize(n uint32) Option {
	return func(r *Runtime) { r.cfg.heapSize = n }
}

// WithHeapBase places the heap at addr when the guest does not export
// __heap_base.
func WithHeapBase(addr uint32) Option {
	return func(r *Runtime) { r.cfg.heapBase = addr }
}

// WithLineMax bounds the bytes svc_gets may store, terminator included.
func WithLineMax(n uint32) Option {
	return func(r *Runtime) { r.cfg.lineMax = n }
}

// WithEntry names the exported function to call.
func WithEntry(name string) Option {
	return func(r *Runtime) { r.cfg.entry = name }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

func New(host trap.Handler, opts ...Option) (*Runtime, error) {
	if host == nil {
		return nil, errors.New("wasmrt: host is nil")
	}
	r := &Runtime{
		host: host,
		cfg: config{
			heapSize: DefaultHeapSize,
			lineMax:  DefaultLineMax,
			entry:    DefaultEntry,
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.lineMax == 0 {
		return nil, errors.Wrap(trap.ErrEmptyBuffer, "line max is zero")
	}
	return r, nil
}

// Run instantiates wasm and calls its entry. The status is the one passed
// to svc_exit, the entry's i32 result when it returns one, or 0. A trap the
// host rejects ends the run with status -1 and the fault.
func (r *Runtime) Run(ctx context.Context, wasm []byte) (status int, err error) {
	if len(wasm) == 0 {
		return -1, errors.New("wasmrt: wasm source is missing")
	}
	rt := wazero.NewRuntime(ctx)
	defer func() { _ = rt.Close(ctx) }()

	g := &guest{cfg: r.cfg, host: r.host, log: r.log}
	if _, err := g.instantiateEnv(ctx, rt); err != nil {
		return -1, errors.Wrap(err, "host module initialization failed")
	}

	// the entry is called explicitly so its result and exit code can be
	// told apart from instantiation errors
	mod, err := rt.InstantiateWithConfig(ctx, wasm, wazero.NewModuleConfig().WithStartFunctions())
	if err != nil {
		return -1, errors.Wrap(err, "failed to instantiate guest")
	}
	fn := mod.ExportedFunction(r.cfg.entry)
	if fn == nil {
		return -1, errors.Newf("wasmrt: entry %q is not exported", r.cfg.entry)
	}

	r.log.Debug().Str("entry", r.cfg.entry).Msg("run")
	res, err := fn.Call(ctx)

	var exit *sys.ExitError
	switch {
	case err == nil:
		if len(res) > 0 {
			status = int(int32(res[0]))
		}
		r.log.Debug().Int("status", status).Msg("entry returned")
		return status, nil
	case errors.As(err, &exit):
		r.log.Debug().Uint32("status", exit.ExitCode()).Uint32("heap_used", g.heapUsed()).Msg("exit")
		return int(exit.ExitCode()), nil
	}
	r.log.Error().Err(err).Msg("guest faulted")
	return -1, err
}
