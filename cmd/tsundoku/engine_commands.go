package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tsundoku/internal/discovery"
	"tsundoku/internal/tracker"
)

func newEngineCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newReconcileCommand(ctx),
		newDiscoverCommand(ctx),
		newAnnouncementsCommand(ctx),
		newPromoteCommand(ctx),
		newDismissCommand(ctx),
		newCleanupCommand(ctx),
		newDurationsCommand(ctx),
		newPostersCommand(ctx),
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check planned titles against the catalog and complete the finished ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				if id != "" {
					titleID, err := parseTitleID(id)
					if err != nil {
						return err
					}
					entry, outcome, err := tr.RefreshEntry(cmd.Context(), titleID)
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, map[string]any{"title": entry, "outcome": outcome})
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", entry.Title, outcome)
					return nil
				}

				summary, err := tr.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				tr.Wait()
				if ctx.jsonOutput() {
					return writeJSON(cmd, summary)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderKeyValues([][2]string{
					{"Checked", strconv.Itoa(summary.Checked)},
					{"Completed", strconv.Itoa(summary.Completed)},
					{"Updated", strconv.Itoa(summary.Updated)},
					{"Skipped", strconv.Itoa(summary.Skipped)},
					{"Errored", strconv.Itoa(summary.Errored)},
					{"Took", summary.Duration().Round(time.Millisecond).String()},
				}))
				for _, item := range summary.Errors {
					printItemError(out, item.TitleID, item.Kind, item.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Refresh only this title")
	return cmd
}

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	var id string
	var reset bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Look for sequels and other announced relations of completed titles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				if reset {
					tr.ResetDiscoveryChecks(cmd.Context())
				}
				var (
					summary discovery.Summary
					err     error
				)
				if id != "" {
					titleID, parseErr := parseTitleID(id)
					if parseErr != nil {
						return parseErr
					}
					summary, err = tr.DiscoverOne(cmd.Context(), titleID)
				} else {
					summary, err = tr.Discover(cmd.Context())
				}
				if err != nil {
					return err
				}
				tr.Wait()
				if ctx.jsonOutput() {
					return writeJSON(cmd, summary)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderKeyValues([][2]string{
					{"Scanned", strconv.Itoa(summary.Scanned)},
					{"Skipped (checked recently)", strconv.Itoa(summary.Skipped)},
					{"Announcements found", strconv.Itoa(summary.Found)},
					{"Errored", strconv.Itoa(summary.Errored)},
					{"Cleaned up", strconv.Itoa(summary.Cleanup.Total())},
				}))
				for _, item := range summary.Errors {
					printItemError(out, item.TitleID, item.Kind, item.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Check only this completed title")
	cmd.Flags().BoolVar(&reset, "reset", false, "Forget when titles were last checked so every title is checked now")
	return cmd
}

func printItemError(out io.Writer, id int64, kind, message string) {
	fmt.Fprintln(out, warnLabel(fmt.Sprintf("  %d: %s: %s", id, kind, message), shouldColorize(out)))
}

func newAnnouncementsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "announcements",
		Short: "List announced titles grouped by the title they relate to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				groups := tr.Groups()
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"groups": groups})
				}
				out := cmd.OutOrStdout()
				if len(groups) == 0 {
					fmt.Fprintln(out, "No announcements")
					return nil
				}
				rows := make([][]string, 0)
				for _, g := range groups {
					for _, a := range g.Announcements {
						rows = append(rows, []string{
							strconv.FormatInt(a.ID, 10),
							a.Title,
							orDash(a.RelationKind),
							orDash(a.Kind),
							orDash(a.RemoteStatus),
							dateLabel(a.AiredOn),
							fmt.Sprintf("%s (%d)", g.OriginalTitle, g.OriginID),
						})
					}
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Title", "Relation", "Kind", "Remote", "Airs", "Related to"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
}

func newPromoteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <id>",
		Short: "Move an announcement into the library as planned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTitleID(args[0])
			if err != nil {
				return err
			}
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				entry, err := tr.Promote(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entry)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%d) as %s\n", entry.Title, entry.ID, entry.Status)
				return nil
			})
		},
	}
}

func newDismissCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Drop an announcement without adding it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTitleID(args[0])
			if err != nil {
				return err
			}
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				removed, err := tr.DismissAnnouncement(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"id": id, "dismissed": removed})
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Announcement %d not found\n", id)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Announcement %d dismissed\n", id)
				return nil
			})
		},
	}
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove orphaned, already tracked and stale announcements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				result, err := tr.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
					{"Orphaned", strconv.Itoa(result.Orphaned)},
					{"Already in library", strconv.Itoa(result.InLibrary)},
					{"No longer upcoming", strconv.Itoa(result.Stale)},
					{"Total", strconv.Itoa(result.Total())},
				}))
				return nil
			})
		},
	}
}

func newDurationsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "durations",
		Short: "Episode length maintenance",
	}
	var limit int
	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch missing episode lengths from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				n, err := tr.RefreshDurations(cmd.Context(), limit)
				return reportMaintenance(ctx, cmd, "durations", n, err)
			})
		},
	}
	refresh.Flags().IntVar(&limit, "limit", 0, "Maximum titles to refresh (0 for all)")
	cmd.AddCommand(refresh)
	return cmd
}

func newPostersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posters",
		Short: "Poster maintenance",
	}
	var limit int
	restore := &cobra.Command{
		Use:   "restore",
		Short: "Fetch catalog posters for titles that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				n, err := tr.RestoreMissingPosters(cmd.Context(), limit)
				return reportMaintenance(ctx, cmd, "posters", n, err)
			})
		},
	}
	restore.Flags().IntVar(&limit, "limit", 0, "Maximum titles to refresh (0 for all)")
	cmd.AddCommand(restore)
	return cmd
}

func reportMaintenance(ctx *commandContext, cmd *cobra.Command, what string, n int, err error) error {
	if err != nil {
		return err
	}
	if ctx.jsonOutput() {
		return writeJSON(cmd, map[string]any{what: n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s of %d titles\n", what, n)
	return nil
}
