package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jun/invoicescout/internal/dispatch"
	"github.com/jun/invoicescout/internal/model"
)

type localResult struct {
	Path     string                 `json:"path"`
	Record   *model.ExtractedRecord `json:"record,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Attempts int                    `json:"attempts"`
}

func newLocalCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "local <path>",
		Short: "Extract invoices from a local file or directory without touching Drive or Sheets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			if err := a.Config.ValidateForExtraction(); err != nil {
				return err
			}
			outcomes, err := a.Local(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			results := localResults(outcomes)
			if asJSON {
				return writeJSON(cmd, results)
			}
			printLocal(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func localResults(outcomes []dispatch.Outcome) []localResult {
	out := make([]localResult, 0, len(outcomes))
	for _, o := range outcomes {
		r := localResult{Path: o.Doc.ID, Attempts: o.Attempts}
		if o.Result.OK() {
			rec := o.Result.Record
			r.Record = &rec
		} else {
			r.Reason = string(o.Result.Failure.Reason)
			r.Error = o.Result.Failure.Message
		}
		out = append(out, r)
	}
	return out
}

func printLocal(out io.Writer, results []localResult) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No matching documents found.")
		return
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r.Record == nil {
			rows = append(rows, []string{r.Path, "", "", "", "", r.Reason + ": " + r.Error})
			continue
		}
		rows = append(rows, []string{
			r.Path,
			r.Record.InvoiceNumber,
			r.Record.InvoiceDate,
			r.Record.Company,
			r.Record.TotalValue + " " + r.Record.Currency,
			"ok after " + strconv.Itoa(r.Attempts) + " attempt(s)",
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Document", "Invoice", "Date", "Company", "Total", "Result"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}
