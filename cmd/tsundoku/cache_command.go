package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tsundoku/internal/reqcache"
	"tsundoku/internal/tracker"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the catalog request cache",
	}
	cmd.AddCommand(newCacheStatsCommand(ctx))
	cmd.AddCommand(newCacheClearCommand(ctx))
	cmd.AddCommand(newCacheSweepCommand(ctx))
	return cmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entries per request type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				stats, err := tr.CacheStats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				rows := make([][]string, 0, len(stats.Ops))
				for _, op := range stats.Ops {
					rows = append(rows, []string{
						string(op.Op),
						op.TTL,
						strconv.Itoa(op.MemoryEntries),
						strconv.Itoa(op.PersistentEntries),
						strconv.Itoa(op.Expired),
						relativeTime(op.Oldest),
						relativeTime(op.Newest),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Request", "TTL", "Memory", "Stored", "Expired", "Oldest", "Newest"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
				))
				pairs := [][2]string{
					{"Last sweep", relativeTime(stats.LastSweep)},
				}
				if stats.StoreBytes > 0 {
					pairs = append(pairs, [2]string{"Store size", humanize.Bytes(uint64(stats.StoreBytes))})
				}
				fmt.Fprintln(out, renderKeyValues(pairs))
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached catalog responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				if err := tr.ClearCache(cmd.Context(), reqcache.Scope(scope)); err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]string{"cleared": scope})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared (%s)\n", scope)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(reqcache.ScopeAll), "Tier to clear (memory, persistent, all)")
	return cmd
}

func newCacheSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired cache entries now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				removed, err := tr.SweepCache(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int{"removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", removed)
				return nil
			})
		},
	}
}
