package main

import (
	"github.com/spf13/cobra"
)

func newLayoutCmd(a *svcrtApp) *cobra.Command {
	var elfPath, layoutPath string
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the resolved memory layout as yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := resolveLayout(elfPath, layoutPath)
			if err != nil {
				return err
			}
			data, err := l.Marshal()
			if err != nil {
				return err
			}
			_, err = a.out.Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&layoutPath, keyLayout, "", "yaml layout file")
	cmd.Flags().StringVar(&elfPath, keyElf, "", "read the layout from the symbols of an ELF image")
	cmd.MarkFlagsMutuallyExclusive(keyLayout, keyElf)
	return cmd
}
