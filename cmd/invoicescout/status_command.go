package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jun/invoicescout/internal/app"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current selection, authorization and last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			rep, err := a.Status()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPairs(statusRows(rep, time.Now())))
			return nil
		},
	}
}

func statusRows(rep app.StatusReport, now time.Time) [][]string {
	return [][]string{
		{"Folder", displayName(rep.Run.SelectedRootName, rep.Run.SelectedRoot)},
		{"Spreadsheet", displayName(rep.Run.ResultStoreName, rep.Run.SelectedResultStore)},
		{"Sheet prefix", rep.SheetPrefix},
		{"Result backend", rep.Backend},
		{"Authorization", authorizationLabel(rep, now)},
		{"Last run", lastRunLabel(rep.Run.LastRun, now)},
		{"Processed", humanize.Comma(int64(rep.Run.ProcessedCount))},
		{"State file", rep.StatePath},
	}
}

func authorizationLabel(rep app.StatusReport, now time.Time) string {
	switch {
	case !rep.HasToken:
		return "not authorized (run `invoicescout auth`)"
	case !rep.HasRefreshToken:
		return "no refresh token (run `invoicescout auth`)"
	case rep.TokenExpiry.IsZero():
		return "authorized"
	case rep.TokenExpiry.After(now):
		return "authorized, access token expires " + humanize.RelTime(rep.TokenExpiry, now, "ago", "from now")
	default:
		return "authorized, access token refreshes on next use"
	}
}

func lastRunLabel(last *time.Time, now time.Time) string {
	if last == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", humanize.RelTime(*last, now, "ago", "from now"), last.Local().Format(time.DateTime))
}
