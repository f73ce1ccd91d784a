package main

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/Joe-Degs/svcrt/internal/host"
	"github.com/Joe-Degs/svcrt/internal/logger"
	"github.com/Joe-Degs/svcrt/internal/wasmrt"
)

const (
	keyHeapSize = "heap-size"
	keyHeapBase = "heap-base"
	keyLineMax  = "line-max"
	keyEntry    = "entry"
)

type wasmConfiguration struct {
	HeapSize uint32
	HeapBase uint32
	LineMax  uint32
	Entry    string
	NoEcho   bool
}

func newWasmCmd(a *svcrtApp) *cobra.Command {
	config := &wasmConfiguration{}
	cmd := &cobra.Command{
		Use:   "wasm <file.wasm>",
		Short: "Run a guest program compiled to WebAssembly",
		Long: `Run a guest program compiled to WebAssembly. The program imports
svc_exit, svc_puts, svc_gets, svc_putint and sbrk from the "env" module.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWasm(cmd, a, config, args[0])
		},
	}
	cmd.Flags().Uint32Var(&config.HeapSize, keyHeapSize, wasmrt.DefaultHeapSize, "bytes sbrk may hand out")
	cmd.Flags().Uint32Var(&config.HeapBase, keyHeapBase, 0, "heap start when the module does not export __heap_base (default end of memory)")
	cmd.Flags().Uint32Var(&config.LineMax, keyLineMax, wasmrt.DefaultLineMax, "bytes svc_gets may store, terminator included")
	cmd.Flags().StringVar(&config.Entry, keyEntry, wasmrt.DefaultEntry, "exported function to call")
	cmd.Flags().BoolVar(&config.NoEcho, keyNoEcho, false, "do not echo input lines when reading from a terminal")
	return cmd
}

func runWasm(cmd *cobra.Command, a *svcrtApp, config *wasmConfiguration, path string) error {
	src, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return errors.Wrap(err, "reading wasm module")
	}

	opts := []host.ConsoleOption{host.WithLogger(logger.Module(a.baseConfig.log, "host"))}
	if config.NoEcho {
		opts = append(opts, host.WithNoEcho())
	}
	log := logger.Module(a.baseConfig.log, "wasm").With().Str("file", filepath.Base(path)).Logger()
	rt, err := wasmrt.New(host.NewConsole(a.out, a.in, opts...),
		wasmrt.WithHeapSize(config.HeapSize),
		wasmrt.WithHeapBase(config.HeapBase),
		wasmrt.WithLineMax(config.LineMax),
		wasmrt.WithEntry(config.Entry),
		wasmrt.WithLogger(log),
	)
	if err != nil {
		return err
	}

	status, err := rt.Run(cmd.Context(), src)
	if err != nil {
		return errors.Wrapf(err, "running %s", filepath.Base(path))
	}
	a.status = status
	log.Info().Int("status", status).Msg("done")
	return nil
}
