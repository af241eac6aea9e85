package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tsundoku/internal/fileutil"
	"tsundoku/internal/tracker"
)

func newBackupCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export, import and restore library data",
	}
	cmd.AddCommand(newBackupExportCommand(ctx))
	cmd.AddCommand(newBackupImportCommand(ctx))
	cmd.AddCommand(newBackupSnapshotsCommand(ctx))
	cmd.AddCommand(newBackupRestoreCommand(ctx))
	return cmd
}

func newBackupExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write a JSON backup to file, or stdout when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				if len(args) == 0 || args[0] == "-" {
					return tr.Export(cmd.OutOrStdout())
				}
				path := strings.TrimSpace(args[0])
				if err := fileutil.WriteAtomic(path, 0o644, tr.Export); err != nil {
					return fmt.Errorf("write backup: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Backup written to %s\n", path)
				return nil
			})
		},
	}
}

func newBackupImportCommand(ctx *commandContext) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load a JSON backup (\"-\" reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reader io.Reader
			if args[0] == "-" {
				reader = cmd.InOrStdin()
			} else {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open backup: %w", err)
				}
				defer file.Close()
				reader = file
			}
			mode := tracker.ImportMerge
			if replace {
				mode = tracker.ImportReplace
			}
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				result, err := tr.Import(cmd.Context(), reader, mode)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
					{"Mode", string(result.Mode)},
					{"Titles written", strconv.Itoa(result.Titles)},
					{"Announcement groups", strconv.Itoa(result.Announcements)},
					{"Announcements pruned", strconv.Itoa(result.Pruned)},
				}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Discard existing data instead of merging")
	return cmd
}

func newBackupSnapshotsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List automatic library snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				snapshots, err := tr.Snapshots(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					type summary struct {
						TakenAt time.Time `json:"takenAt"`
						Reason  string    `json:"reason"`
						Titles  int       `json:"titles"`
					}
					list := make([]summary, 0, len(snapshots))
					for _, s := range snapshots {
						list = append(list, summary{TakenAt: s.TakenAt, Reason: s.Reason, Titles: len(s.Library)})
					}
					return writeJSON(cmd, map[string]any{"snapshots": list})
				}
				out := cmd.OutOrStdout()
				if len(snapshots) == 0 {
					fmt.Fprintln(out, "No snapshots")
					return nil
				}
				rows := make([][]string, 0, len(snapshots))
				for _, s := range snapshots {
					rows = append(rows, []string{relativeTime(s.TakenAt), s.Reason, strconv.Itoa(len(s.Library))})
				}
				fmt.Fprintln(out, renderTable([]string{"Taken", "Reason", "Titles"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newBackupRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Replace the library with the newest snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				snapshot, ok, err := tr.RestoreSnapshot(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("no snapshot to restore")
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"takenAt": snapshot.TakenAt, "reason": snapshot.Reason, "titles": len(snapshot.Library)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %d titles from the snapshot taken %s (%s)\n",
					len(snapshot.Library), relativeTime(snapshot.TakenAt), snapshot.Reason)
				return nil
			})
		},
	}
}
