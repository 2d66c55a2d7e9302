package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jun/invoicescout/internal/app"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Extract new invoices from the selected folder into the result store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			orch, err := a.Orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := orch.Run(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
}

func printSummary(out io.Writer, sum app.Summary) {
	fmt.Fprintf(out, "Found %s document(s): %s new invoice(s) recorded, %s already present, %s failed.\n",
		humanize.Comma(int64(sum.Candidates)),
		humanize.Comma(int64(sum.Processed)),
		humanize.Comma(int64(sum.Skipped)),
		humanize.Comma(int64(len(sum.Failures))))
	if sum.TotalCount > 0 {
		fmt.Fprintf(out, "Total value of new invoices: %s\n", humanize.FormatFloat("#,###.##", sum.TotalValue))
	}
	if sum.SkippedFolders > 0 {
		fmt.Fprintf(out, "%d folder(s) could not be read and were skipped.\n", sum.SkippedFolders)
	}
	if len(sum.Failures) == 0 {
		return
	}
	rows := make([][]string, 0, len(sum.Failures))
	for _, f := range sum.Failures {
		rows = append(rows, []string{f.Document.Name, string(f.Reason), strconv.Itoa(f.Attempts), f.Message})
	}
	fmt.Fprintln(out, renderTable([]string{"Document", "Reason", "Attempts", "Detail"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
}
