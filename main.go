package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type svcrtApp struct {
	baseCmd    *cobra.Command
	baseConfig *baseConfiguration

	in       io.Reader
	out, err io.Writer
	// exit status of the last guest program
	status int
}

func newApp(in io.Reader, out, errOut io.Writer) *svcrtApp {
	config := &baseConfiguration{}
	baseCmd := &cobra.Command{
		Use:           "svcrt",
		Short:         "Run guest programs against the SVC trap table and the sbrk heap",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.initializeConfig(cmd); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return nil
		},
	}
	config.addConfigurationFlags(baseCmd)
	baseCmd.SetIn(in)
	baseCmd.SetOut(out)
	baseCmd.SetErr(errOut)

	a := &svcrtApp{baseCmd: baseCmd, baseConfig: config, in: in, out: out, err: errOut}
	baseCmd.AddCommand(newRunCmd(a))
	baseCmd.AddCommand(newWasmCmd(a))
	baseCmd.AddCommand(newLayoutCmd(a))
	return a
}

// Execute runs the command line and returns the guest's exit status.
func (a *svcrtApp) Execute(ctx context.Context) (int, error) {
	defer a.baseConfig.close()
	if err := a.baseCmd.ExecuteContext(ctx); err != nil {
		return -1, err
	}
	return a.status, nil
}

func main() {
	app := newApp(os.Stdin, os.Stdout, os.Stderr)
	status, err := app.Execute(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	os.Exit(status)
}
