package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"tsundoku/internal/library"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusLabel(status library.Status, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	switch status {
	case library.StatusCompleted:
		return ansiGreen + label + ansiReset
	case library.StatusWatching:
		return ansiBlue + label + ansiReset
	case library.StatusPostponed:
		return ansiYellow + label + ansiReset
	default:
		return label
	}
}

func warnLabel(message string, colorize bool) string {
	if colorize {
		return ansiRed + message + ansiReset
	}
	return message
}

func progressLabel(e library.Entry) string {
	total := "?"
	if e.EpisodesTotal > 0 {
		total = strconv.Itoa(e.EpisodesTotal)
	}
	return fmt.Sprintf("%d/%s", e.CurrentEpisode, total)
}

func airedLabel(e library.Entry) string {
	total := "?"
	if e.EpisodesTotal > 0 {
		total = strconv.Itoa(e.EpisodesTotal)
	}
	return fmt.Sprintf("%d/%s", e.EpisodesAired, total)
}

// relativeTime renders t as "3 hours ago" or "in 2 days"; zero is "-".
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func dateLabel(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func entryRows(entries []library.Entry, colorize bool) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		check := relativeTime(e.LastStatusCheckAt)
		if e.LastCheckError != nil {
			check = warnLabel(check+" ("+e.LastCheckError.Kind+")", colorize)
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.Title,
			statusLabel(e.Status, colorize),
			progressLabel(e),
			airedLabel(e),
			orDash(e.RemoteStatus),
			check,
		})
	}
	return rows
}

func printEntries(out io.Writer, entries []library.Entry, empty string) {
	if len(entries) == 0 {
		fmt.Fprintln(out, empty)
		return
	}
	headers := []string{"ID", "Title", "Status", "Watched", "Aired", "Remote", "Checked"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight}
	fmt.Fprintln(out, renderTable(headers, entryRows(entries, shouldColorize(out)), aligns))
}

// writeJSON prints v for --json. Poster and catalog URLs carry query
// strings, so HTML escaping stays off.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
