package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var credentialsOnly bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget stored credentials and selections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			if err := a.Reset(cmd.Context(), credentialsOnly); err != nil {
				return err
			}
			if credentialsOnly {
				fmt.Fprintln(cmd.OutOrStdout(), "Stored credentials removed.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", a.State.Path())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&credentialsOnly, "credentials-only", false, "Keep the folder and spreadsheet selection")
	return cmd
}
