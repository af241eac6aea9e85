package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tsundoku/internal/config"
	"tsundoku/internal/logging"
	"tsundoku/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, "debug", nil)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Debug("debug message")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "tsundoku.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "debug message") {
		t.Fatalf("expected debug line in log file, got %q", content)
	}
}

func TestConsoleLoggerFormatsComponentAndTitle(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "reconcile")
	logger.Info("entry completed", logging.Int64(logging.FieldTitleID, 42), logging.String("reason", "all episodes aired"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, fragment := range []string{"INFO", "reconcile [title 42]:", "entry completed", `reason="all episodes aired"`} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestJSONLoggerUsesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRunID(context.Background(), "run-7")
	ctx = services.WithEngine(ctx, "discovery")
	logging.WithContext(ctx, logger).Info("run started")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if payload[logging.FieldRunID] != "run-7" {
		t.Fatalf("expected run id in payload, got %v", payload)
	}
	if payload[logging.FieldEngine] != "discovery" {
		t.Fatalf("expected engine in payload, got %v", payload)
	}
	if payload["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "cache write dropped", "cache_write_dropped", logging.String(logging.FieldImpact, "entry kept in memory only"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if payload[logging.FieldEventType] != "cache_write_dropped" {
		t.Fatalf("unexpected event type: %v", payload[logging.FieldEventType])
	}
	if payload[logging.FieldImpact] != "entry kept in memory only" {
		t.Fatalf("impact should be preserved, got %v", payload[logging.FieldImpact])
	}
	if payload[logging.FieldErrorHint] == nil {
		t.Fatal("expected default error hint")
	}
}

func TestJournalCapturesErrors(t *testing.T) {
	journal := logging.NewJournal(3)
	logger, err := logging.New(logging.Options{Format: "json", Level: "error", OutputPaths: []string{filepath.Join(t.TempDir(), "j.log")}, Journal: journal})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "catalog")
	logger.Warn("ignored warning")
	cause := services.Wrap(services.ErrRateLimited, "catalog", "details", "status 429", errors.New("slow down"))
	for i := 0; i < 4; i++ {
		logger.Error("request failed", logging.Error(cause), logging.Int64(logging.FieldTitleID, int64(i)))
	}

	records := journal.Recent(0)
	if len(records) != 3 {
		t.Fatalf("expected journal bounded to 3, got %d", len(records))
	}
	first := records[0]
	if first.TitleID != 1 {
		t.Fatalf("expected oldest record to be dropped, got title %d", first.TitleID)
	}
	if first.Component != "catalog" || first.Kind != services.KindRateLimited {
		t.Fatalf("unexpected record %+v", first)
	}
	if got := journal.Recent(1); len(got) != 1 || got[0].TitleID != 3 {
		t.Fatalf("expected most recent record, got %+v", got)
	}
	journal.Clear()
	if journal.Len() != 0 {
		t.Fatal("expected empty journal after clear")
	}
}

func TestJSONLoggerFlattensDurationsAndErrors(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "flat.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	cause := errors.New("catalog: details: HTTP 500\nbody: upstream exploded")
	logger.Info("batch finished", logging.Duration("elapsed", 1500*time.Millisecond), logging.Error(cause))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if payload["elapsed_ms"] != float64(1500) {
		t.Fatalf("expected elapsed_ms=1500, got %v", payload)
	}
	if payload[logging.FieldError] != "catalog: details: HTTP 500" {
		t.Fatalf("expected one-line error, got %q", payload[logging.FieldError])
	}
}
