// Package logging assembles structured slog loggers and formatting helpers used
// across tsundoku.
//
// It owns the console/JSON handlers, centralizes level and output plumbing, and
// exposes context-aware helpers so engine code automatically tags log lines with
// run ids, engine names, and title ids. Error-level records can be teed into a
// bounded Journal that the CLI surfaces as a summary. A no-op logger is provided
// for tests and wiring code that cannot fail.
package logging
