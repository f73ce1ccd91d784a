package main

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/Joe-Degs/svcrt/internal/host"
	"github.com/Joe-Degs/svcrt/internal/layout"
	"github.com/Joe-Degs/svcrt/internal/logger"
	"github.com/Joe-Degs/svcrt/internal/machine"
	"github.com/Joe-Degs/svcrt/internal/programs"
)

const (
	keyProgram   = "program"
	keyRuns      = "runs"
	keyHeapStart = "heap-start"
	keyHeapEnd   = "heap-end"
	keyLayout    = "layout"
	keyElf       = "elf"
	keyNoEcho    = "no-echo"
	keyDumpState = "dump-state"
)

type runConfiguration struct {
	Program   string
	Runs      int
	HeapStart uint32
	HeapEnd   uint32
	Layout    string
	Elf       string
	NoEcho    bool
	DumpState bool
}

func newRunCmd(a *svcrtApp) *cobra.Command {
	config := &runConfiguration{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a built-in guest program",
		Long: fmt.Sprintf("Run a built-in guest program against the console.\nPrograms: %s",
			strings.Join(programs.Names(), ", ")),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(cmd, a, config)
		},
	}
	cmd.Flags().StringVarP(&config.Program, keyProgram, "p", "hello", "name of the program to run")
	cmd.Flags().IntVar(&config.Runs, keyRuns, 1, "number of times to run the program, memory is reset between runs")
	cmd.Flags().Uint32Var(&config.HeapStart, keyHeapStart, 0, "override the heap start address")
	cmd.Flags().Uint32Var(&config.HeapEnd, keyHeapEnd, 0, "override the heap end address")
	cmd.Flags().StringVar(&config.Layout, keyLayout, "", "yaml layout file")
	cmd.Flags().StringVar(&config.Elf, keyElf, "", "read the layout from the symbols of an ELF image")
	cmd.Flags().BoolVar(&config.NoEcho, keyNoEcho, false, "do not echo input lines when reading from a terminal")
	cmd.Flags().BoolVar(&config.DumpState, keyDumpState, false, "print the process state when a program faults")
	cmd.MarkFlagsMutuallyExclusive(keyLayout, keyElf)
	return cmd
}

// resolveLayout picks the layout from an ELF image, a yaml file or the
// defaults, in that order.
func resolveLayout(elfPath, layoutPath string) (layout.Layout, error) {
	switch {
	case elfPath != "":
		return layout.FromELF(elfPath)
	case layoutPath != "":
		return layout.Load(layoutPath)
	}
	return layout.Default(), nil
}

func runProgram(cmd *cobra.Command, a *svcrtApp, config *runConfiguration) error {
	prog, ok := programs.Lookup(config.Program)
	if !ok {
		return errors.Newf("unknown program %q, one of: %s", config.Program, strings.Join(programs.Names(), ", "))
	}
	if config.Runs < 1 {
		return errors.Newf("runs must be positive, got %d", config.Runs)
	}

	l, err := resolveLayout(config.Elf, config.Layout)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed(keyHeapStart) {
		l.HeapStart = config.HeapStart
	}
	if cmd.Flags().Changed(keyHeapEnd) {
		l.HeapEnd = config.HeapEnd
	}

	log := logger.Module(a.baseConfig.log, "machine").With().Str("program", config.Program).Logger()
	var opts []host.ConsoleOption
	if config.NoEcho {
		opts = append(opts, host.WithNoEcho())
	}
	opts = append(opts, host.WithLogger(logger.Module(a.baseConfig.log, "host")))
	console := host.NewConsole(a.out, a.in, opts...)

	p, err := machine.New(l, console, machine.WithLogger(log))
	if err != nil {
		return err
	}

	// every run starts from the same image
	child := p.Fork()
	for i := 0; i < config.Runs; i++ {
		if i > 0 {
			if err := child.Reset(); err != nil {
				return err
			}
		}
		status, err := child.Run(prog)
		if err != nil {
			if config.DumpState {
				fmt.Fprint(a.err, child.Dump())
			}
			return errors.Wrapf(err, "run %d of %s", i+1, config.Program)
		}
		a.status = status
		log.Info().Int("run", i+1).Int("status", status).Uint32("heap_used", child.Heap.Used()).Msg("done")
	}
	return nil
}
