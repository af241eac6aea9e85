package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tsundoku/internal/library"
	"tsundoku/internal/tracker"
)

func newLibraryCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newSearchCommand(ctx),
		newAddCommand(ctx),
		newListCommand(ctx),
		newShowCommand(ctx),
		newStatusCommand(ctx),
		newProgressCommand(ctx),
		newPosterCommand(ctx),
		newRemoveCommand(ctx),
		newReadyCommand(ctx),
		newWaitingCommand(ctx),
		newStatsCommand(ctx),
	}
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				results, err := tr.Search(cmd.Context(), query, limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"results": results})
				}
				out := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintln(out, "No titles found")
					return nil
				}
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					tracked := "-"
					switch {
					case r.InLibrary:
						tracked = string(r.Status)
					case r.Announced:
						tracked = "announced"
					}
					rows = append(rows, []string{
						strconv.FormatInt(r.ID, 10),
						r.Title,
						orDash(r.Kind),
						orDash(r.Summary.Status),
						strconv.Itoa(r.Episodes),
						dateLabel(r.AiredOn),
						tracked,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Title", "Kind", "Remote", "Episodes", "Aired", "Library"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (default catalog.search_limit)")
	return cmd
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var status string
	var poster string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a catalog title to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTitleID(args[0])
			if err != nil {
				return err
			}
			parsed, ok := library.ParseStatus(status)
			if !ok {
				return fmt.Errorf("unknown status %q", status)
			}
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				entry, err := tr.Add(cmd.Context(), id, parsed, poster)
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
	cmd.Flags().StringVar(&status, "status", string(library.StatusPlanned), "Initial status (planned, watching, completed, postponed)")
	cmd.Flags().StringVar(&poster, "poster", "", "Custom poster URL")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List library titles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				entries, err := tr.List(library.Status(strings.TrimSpace(status)))
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"titles": entries})
				}
				printEntries(cmd.OutOrStdout(), entries, "Library is empty")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only titles with this status")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one library title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTitleID(args[0])
			if err != nil {
				return err
			}
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				entry, ok := tr.Get(id)
				if !ok {
					return fmt.Errorf("title %d is not in the library", id)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entry)
				}
				printEntry(cmd, entry)
				return nil
			})
		},
	}
}

func printEntry(cmd *cobra.Command, e library.Entry) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	pairs := [][2]string{
		{"ID", strconv.FormatInt(e.ID, 10)},
		{"Title", e.Title},
		{"Original title", orDash(e.OriginalTitle)},
		{"Kind", orDash(e.Kind)},
		{"Status", statusLabel(e.Status, colorize)},
		{"Watched", progressLabel(e)},
		{"Aired", airedLabel(e)},
		{"Remote status", orDash(e.RemoteStatus)},
		{"Aired on", dateLabel(e.AiredOn)},
		{"Next episode", relativeTime(e.NextEpisodeAt)},
		{"Episode length", minutesLabel(e.EpisodeDurationMinutes)},
		{"Genres", orDash(strings.Join(e.Genres, ", "))},
		{"Poster", posterLabel(e)},
		{"Added", relativeTime(e.AddedAt)},
		{"Last check", relativeTime(e.LastStatusCheckAt)},
	}
	if e.LastCheckError != nil {
		pairs = append(pairs, [2]string{"Check error", warnLabel(e.LastCheckError.Kind+": "+e.LastCheckError.Message, colorize)})
	}
	if e.Origin != nil && e.Origin.FromAnnouncement {
		pairs = append(pairs, [2]string{"Announced from", fmt.Sprintf("%d (%s)", e.Origin.SourceTitleID, orDash(e.Origin.RelationKind))})
	}
	fmt.Fprintln(out, renderKeyValues(pairs))
	if len(e.History) == 0 {
		return
	}
	rows := make([][]string, 0, len(e.History))
	for _, h := range e.History {
		rows = append(rows, []string{dateLabel(h.ChangedAt), orDash(string(h.From)), string(h.To), h.Reason, yesNo(h.Automated)})
	}
	fmt.Fprintln(out, renderTable([]string{"Date", "From", "To", "Reason", "Automated"}, rows, nil))
}

func minutesLabel(minutes int) string {
	if minutes <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d min", minutes)
}

func posterLabel(e library.Entry) string {
	if e.PosterIsCustomOverride {
		return e.PosterURL + " (custom)"
	}
	return orDash(e.PosterURL)
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change a title's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTitleID(args[0])
			if err != nil {
				return err
			}
			status, ok := library.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				entry, err := tr.SetStatus(cmd.Context(), id, status)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entry)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", entry.Title, entry.Status)
				return nil
			})
		},
	}
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <id> <episode>",
		Short: "Record the last watched episode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTitleID(args[0])
			if err != nil {
				return err
			}
			episode, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil || episode < 0 {
				return fmt.Errorf("invalid episode %q", args[1])
			}
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				entry, err := tr.UpdateProgress(cmd.Context(), id, episode)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entry)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: watched %s\n", entry.Title, progressLabel(entry))
				return nil
			})
		},
	}
}

func newPosterCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "poster <id> <url>",
		Short: `Set a custom poster URL ("" restores the catalog artwork)`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTitleID(args[0])
			if err != nil {
				return err
			}
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				entry, err := tr.SetPoster(cmd.Context(), id, args[1])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"id": id, "title": entry})
				}
				if entry.ID == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Poster of announcement %d updated\n", id)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Poster of %s: %s\n", entry.Title, posterLabel(entry))
				return nil
			})
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a title and the announcements found for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTitleID(args[0])
			if err != nil {
				return err
			}
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				removed, err := tr.Remove(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"id": id, "removed": removed})
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Title %d not found\n", id)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Title %d removed\n", id)
				return nil
			})
		},
	}
}

func newReadyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Planned titles that finished airing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				entries := tr.ReadyToWatch()
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"titles": entries})
				}
				printEntries(cmd.OutOrStdout(), entries, "Nothing ready to watch")
				return nil
			})
		},
	}
}

func newWaitingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "waiting",
		Short: "Planned titles still airing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				entries := tr.WaitingForEpisodes()
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"titles": entries})
				}
				printEntries(cmd.OutOrStdout(), entries, "No planned titles are airing")
				return nil
			})
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Watch-time statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				stats := tr.Stats()
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				pairs := [][2]string{
					{"Titles", strconv.Itoa(stats.Total)},
				}
				for _, s := range []library.Status{library.StatusPlanned, library.StatusWatching, library.StatusCompleted, library.StatusPostponed} {
					pairs = append(pairs, [2]string{"  " + string(s), strconv.Itoa(stats.ByStatus[s])})
				}
				pairs = append(pairs,
					[2]string{"Episodes watched", strconv.Itoa(stats.WatchedEpisodes)},
					[2]string{"Watch time", fmt.Sprintf("%dd %dh %dm", stats.Days, stats.Hours, stats.Minutes)},
					[2]string{"Completion", fmt.Sprintf("%d%%", stats.CompletionPercent)},
					[2]string{"Average score", strconv.FormatFloat(stats.AverageScore, 'f', 2, 64)},
					[2]string{"Favorite genre", orDash(stats.FavoriteGenre)},
					[2]string{"Library started", relativeTime(stats.LibraryCreated)},
				)
				fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues(pairs))
				return nil
			})
		},
	}
}
