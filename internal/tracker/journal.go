package tracker

import (
	"context"

	"tsundoku/internal/logging"
	"tsundoku/internal/services"
	"tsundoku/internal/storage"
)

const journalKey = "error_log"

func (t *Tracker) loadJournal(ctx context.Context) {
	if t.journal == nil {
		return
	}
	records, err := storage.GetOr[[]logging.JournalRecord](ctx, t.store, journalKey, nil)
	if err != nil {
		logging.WarnWithContext(t.logger, "error journal not loaded", "journal_load_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "errors from earlier sessions are not shown"),
		)
		return
	}
	// Records captured before the store opened stay after the restored ones.
	pending := t.journal.Recent(0)
	t.journal.Clear()
	t.journal.Restore(records)
	t.journal.Restore(pending)
}

func (t *Tracker) persistJournal(ctx context.Context) error {
	if t.journal == nil {
		return nil
	}
	records := t.journal.Recent(logging.JournalPersistLimit)
	if err := t.store.Set(ctx, journalKey, records); err != nil {
		return services.Wrap(services.ErrStorage, "tracker", "persist_journal", "", err)
	}
	return nil
}

// Errors returns the most recent journal records, oldest first.
func (t *Tracker) Errors(limit int) []logging.JournalRecord {
	return t.journal.Recent(limit)
}

// ClearErrors empties the journal and its persisted copy.
func (t *Tracker) ClearErrors(ctx context.Context) error {
	t.journal.Clear()
	if err := t.store.Delete(ctx, journalKey); err != nil {
		return services.Wrap(services.ErrStorage, "tracker", "clear_journal", "", err)
	}
	return nil
}
