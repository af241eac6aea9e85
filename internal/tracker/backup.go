package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"tsundoku/internal/announcements"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/services"
	"tsundoku/internal/storage"
)

const (
	backupVersion   = 1
	snapshotKey     = "library_backup"
	snapshotsToKeep = 3
)

// ImportMode selects how an imported backup combines with existing data.
type ImportMode string

const (
	// ImportMerge keeps existing titles and takes incoming copies only when
	// they are newer.
	ImportMerge ImportMode = "merge"
	// ImportReplace discards existing data first.
	ImportReplace ImportMode = "replace"
)

// Backup is the export file format.
type Backup struct {
	Version       int                           `json:"version"`
	ExportedAt    time.Time                     `json:"exportedAt"`
	Library       map[int64]library.Entry       `json:"library"`
	Announcements map[int64]announcements.Group `json:"announcements"`
	Settings      *Settings                     `json:"settings,omitempty"`
}

// ImportResult counts what an import wrote.
type ImportResult struct {
	Mode          ImportMode `json:"mode"`
	Titles        int        `json:"titles"`
	Announcements int        `json:"announcements"`
	Pruned        int        `json:"pruned"`
}

// Snapshot is one automatic copy of the library kept in storage.
type Snapshot struct {
	TakenAt time.Time               `json:"takenAt"`
	Reason  string                  `json:"reason"`
	Library map[int64]library.Entry `json:"library"`
}

// Export writes a full backup to w.
func (t *Tracker) Export(w io.Writer) error {
	settings := t.Settings()
	backup := Backup{
		Version:       backupVersion,
		ExportedAt:    t.now().UTC(),
		Library:       t.library.Snapshot(),
		Announcements: t.ann.Snapshot(),
		Settings:      &settings,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(backup); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return nil
}

// Import reads a backup from r. A replace import snapshots the current
// library first and resets discovery check records. Announcements whose
// title ends up in the library are dropped afterwards.
func (t *Tracker) Import(ctx context.Context, r io.Reader, mode ImportMode) (ImportResult, error) {
	if mode == "" {
		mode = ImportMerge
	}
	if mode != ImportMerge && mode != ImportReplace {
		return ImportResult{}, services.Wrap(services.ErrValidation, "tracker", "import", fmt.Sprintf("unknown import mode %q", mode), nil)
	}
	var backup Backup
	dec := json.NewDecoder(r)
	if err := dec.Decode(&backup); err != nil {
		return ImportResult{}, services.Wrap(services.ErrValidation, "tracker", "import", "backup is not valid JSON", err)
	}
	if backup.Version < 1 || backup.Version > backupVersion {
		return ImportResult{}, services.Wrap(services.ErrValidation, "tracker", "import", fmt.Sprintf("unsupported backup version %d", backup.Version), nil)
	}
	if err := validateBackup(backup); err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{Mode: mode}
	switch mode {
	case ImportReplace:
		if err := t.TakeSnapshot(ctx, "before import"); err != nil {
			return ImportResult{}, err
		}
		if err := t.library.Replace(ctx, backup.Library); err != nil {
			return ImportResult{}, err
		}
		if err := t.ann.Replace(ctx, backup.Announcements); err != nil {
			return ImportResult{}, err
		}
		t.ann.ResetChecks(ctx)
		if backup.Settings != nil {
			t.settingsMu.Lock()
			err := t.saveSettingsLocked(ctx, *backup.Settings)
			t.settingsMu.Unlock()
			if err != nil {
				return ImportResult{}, err
			}
		}
		result.Titles = len(backup.Library)
		for _, g := range backup.Announcements {
			result.Announcements += len(g.Announcements)
		}
	default:
		var err error
		if result.Titles, err = t.library.Merge(ctx, backup.Library); err != nil {
			return ImportResult{}, err
		}
		if result.Announcements, err = t.ann.Merge(ctx, backup.Announcements); err != nil {
			return ImportResult{}, err
		}
	}

	orphaned, err := t.ann.PruneOrphans(ctx, t.library.Has)
	if err != nil {
		return result, err
	}
	tracked, err := t.ann.PruneEntries(ctx, func(a announcements.Entry) bool { return t.library.Has(a.ID) })
	if err != nil {
		return result, err
	}
	result.Pruned = orphaned + tracked
	t.logger.Info("backup imported",
		logging.String("mode", string(mode)),
		logging.Int("titles", result.Titles),
		logging.Int("announcements", result.Announcements),
		logging.Int("pruned", result.Pruned),
		logging.String(logging.FieldEventType, "backup_imported"),
	)
	return result, nil
}

func validateBackup(b Backup) error {
	for id, e := range b.Library {
		if id <= 0 {
			return services.Wrap(services.ErrValidation, "tracker", "import", fmt.Sprintf("invalid title id %d", id), nil)
		}
		if _, ok := library.ParseStatus(string(e.Status)); !ok {
			return services.Wrap(services.ErrValidation, "tracker", "import", fmt.Sprintf("title %d has unknown status %q", id, e.Status), nil)
		}
	}
	return nil
}

// TakeSnapshot stores a copy of the library, keeping the newest three.
func (t *Tracker) TakeSnapshot(ctx context.Context, reason string) error {
	if t.library.Len() == 0 {
		return nil
	}
	snapshots, err := t.Snapshots(ctx)
	if err != nil {
		return err
	}
	snapshots = append(snapshots, Snapshot{TakenAt: t.now().UTC(), Reason: reason, Library: t.library.Snapshot()})
	if over := len(snapshots) - snapshotsToKeep; over > 0 {
		snapshots = snapshots[over:]
	}
	if err := storage.SetWithReclaim(ctx, t.store, snapshotKey, snapshots, t.reclaimer()); err != nil {
		return services.Wrap(services.ErrStorage, "tracker", "snapshot", "", err)
	}
	return nil
}

// Snapshots returns the stored library snapshots, oldest first.
func (t *Tracker) Snapshots(ctx context.Context) ([]Snapshot, error) {
	snapshots, err := storage.GetOr[[]Snapshot](ctx, t.store, snapshotKey, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "tracker", "snapshots", "", err)
	}
	return snapshots, nil
}

// RestoreSnapshot replaces the library with the newest snapshot and reports
// whether one existed.
func (t *Tracker) RestoreSnapshot(ctx context.Context) (Snapshot, bool, error) {
	snapshots, err := t.Snapshots(ctx)
	if err != nil || len(snapshots) == 0 {
		return Snapshot{}, false, err
	}
	latest := snapshots[len(snapshots)-1]
	if err := t.library.Replace(ctx, latest.Library); err != nil {
		return Snapshot{}, false, err
	}
	if _, err := t.ann.PruneEntries(ctx, func(a announcements.Entry) bool { return t.library.Has(a.ID) }); err != nil {
		return latest, true, err
	}
	if _, err := t.ann.PruneOrphans(ctx, t.library.Has); err != nil {
		return latest, true, err
	}
	return latest, true, nil
}

func (t *Tracker) reclaimer() storage.Reclaimer {
	if t.cache == nil {
		return nil
	}
	return t.cache
}
