package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jun/invoicescout/internal/auth"
)

func newAuthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to Google Drive and Sheets in the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			flow, err := a.AuthorizationFlow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Opening the browser to authorize access. Waiting for the redirect...")
			if _, err := flow.Run(cmd.Context()); err != nil {
				return err
			}

			client, err := a.GoogleClient(cmd.Context())
			if err != nil {
				return err
			}
			email, err := auth.AccountEmail(cmd.Context(), client)
			if err != nil {
				a.Logger.Warn("account lookup failed", "error", err)
				fmt.Fprintln(cmd.OutOrStdout(), "Authorization saved.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Authorized as %s.\n", email)
			return nil
		},
	}
}
