package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jun/invoicescout/internal/app"
)

func newSetupCommand(ctx *commandContext) *cobra.Command {
	var opts app.SetupOptions
	var listFolders bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Select the Drive folder and spreadsheet to sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if listFolders {
				folders, err := a.ListFolders(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(folders))
				for _, f := range folders {
					modified := ""
					if !f.ModifiedTime.IsZero() {
						modified = humanize.Time(f.ModifiedTime)
					}
					rows = append(rows, []string{f.Name, f.ID, modified})
				}
				fmt.Fprintln(out, renderTable([]string{"Folder", "ID", "Modified"}, rows, nil))
				return nil
			}

			if opts.FolderID == "" && opts.SpreadsheetID == "" && opts.SheetPrefix == "" {
				return cmd.Help()
			}
			rs, err := a.Setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderPairs([][]string{
				{"Folder", displayName(rs.SelectedRootName, rs.SelectedRoot)},
				{"Spreadsheet", displayName(rs.ResultStoreName, rs.SelectedResultStore)},
				{"Sheet prefix", a.Config.Results.SheetPrefix},
			}))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.FolderID, "folder", "", "Drive folder ID to scan recursively")
	cmd.Flags().StringVar(&opts.SpreadsheetID, "spreadsheet", "", "Spreadsheet ID to write results to")
	cmd.Flags().StringVar(&opts.SheetPrefix, "sheet-prefix", "", "Prefix of the per-year result sheets")
	cmd.Flags().BoolVar(&listFolders, "list-folders", false, "List the Drive folders this account can access")
	return cmd
}

func displayName(name, id string) string {
	switch {
	case id == "":
		return "(not selected)"
	case name == "":
		return id
	default:
		return fmt.Sprintf("%s (%s)", name, id)
	}
}
