package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tsundoku/internal/services"
)

const (
	// DefaultJournalCapacity bounds the in-memory error journal.
	DefaultJournalCapacity = 100
	// JournalPersistLimit is how many of the most recent records get saved to storage.
	JournalPersistLimit = 20
)

// JournalRecord is one captured error-level log line.
type JournalRecord struct {
	Time      time.Time `json:"time"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Kind      string    `json:"kind,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	TitleID   int64     `json:"titleId,omitempty"`
}

// Journal keeps a bounded ring of recent errors so failures stay visible in
// summary form after the fact.
type Journal struct {
	mu       sync.Mutex
	capacity int
	records  []JournalRecord
}

// NewJournal creates a journal holding at most capacity records.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultJournalCapacity
	}
	return &Journal{capacity: capacity}
}

// Add appends a record, dropping the oldest once the journal is full.
func (j *Journal) Add(rec JournalRecord) {
	if j == nil {
		return
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	if over := len(j.records) - j.capacity; over > 0 {
		j.records = append([]JournalRecord(nil), j.records[over:]...)
	}
}

// Recent returns up to limit records, oldest first. limit <= 0 returns all.
func (j *Journal) Recent(limit int) []JournalRecord {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	start := 0
	if limit > 0 && len(j.records) > limit {
		start = len(j.records) - limit
	}
	return append([]JournalRecord(nil), j.records[start:]...)
}

// Restore seeds the journal with previously persisted records.
func (j *Journal) Restore(records []JournalRecord) {
	for _, rec := range records {
		j.Add(rec)
	}
}

// Clear drops every record.
func (j *Journal) Clear() {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.records = nil
	j.mu.Unlock()
}

// Len reports the number of records held.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Handler returns a slog handler that captures error-level records into the journal.
func (j *Journal) Handler() slog.Handler {
	return &journalHandler{journal: j}
}

type journalHandler struct {
	journal *Journal
	attrs   []slog.Attr
}

func (h *journalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *journalHandler) Handle(_ context.Context, record slog.Record) error {
	rec := JournalRecord{Time: record.Time.UTC(), Message: record.Message}
	apply := func(attr slog.Attr) bool {
		value := attr.Value.Resolve()
		switch attr.Key {
		case FieldComponent:
			rec.Component = value.String()
		case FieldTitleID:
			if value.Kind() == slog.KindInt64 {
				rec.TitleID = value.Int64()
			}
		case FieldErrorKind:
			rec.Kind = value.String()
		case FieldError:
			if err, ok := value.Any().(error); ok {
				rec.Detail = services.Summary(err)
				if rec.Kind == "" {
					rec.Kind = services.Kind(err)
				}
			} else {
				rec.Detail = value.String()
			}
		}
		return true
	}
	for _, attr := range h.attrs {
		apply(attr)
	}
	record.Attrs(apply)
	h.journal.Add(rec)
	return nil
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &journalHandler{journal: h.journal, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *journalHandler) WithGroup(string) slog.Handler {
	return h
}

// JournalError records err directly without going through a logger.
func (j *Journal) JournalError(component, message string, err error) {
	rec := JournalRecord{Component: component, Message: message}
	if err != nil {
		rec.Detail = services.Summary(err)
		rec.Kind = services.Kind(err)
	}
	j.Add(rec)
}
