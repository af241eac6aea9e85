package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tsundoku/internal/tracker"
)

func newErrorsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var clearJournal bool
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show recent background errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := readOnly
			if clearJournal {
				mode = readWrite
			}
			return ctx.withTracker(cmd, mode, func(tr *tracker.Tracker) error {
				if clearJournal {
					if err := tr.ClearErrors(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Error journal cleared")
					return nil
				}
				records := tr.Errors(limit)
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"errors": records})
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No errors recorded")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					title := "-"
					if r.TitleID > 0 {
						title = fmt.Sprint(r.TitleID)
					}
					rows = append(rows, []string{relativeTime(r.Time), r.Component, orDash(r.Kind), title, r.Message, orDash(r.Detail)})
				}
				fmt.Fprintln(out, renderTable([]string{"When", "Component", "Kind", "Title", "Message", "Detail"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of records to show (0 for all)")
	cmd.Flags().BoolVar(&clearJournal, "clear", false, "Empty the journal")
	return cmd
}
