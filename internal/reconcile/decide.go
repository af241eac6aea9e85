package reconcile

import (
	"fmt"
	"slices"
	"time"

	"tsundoku/internal/catalog"
	"tsundoku/internal/library"
	"tsundoku/internal/services"
)

// ReasonReleased is the history reason when the catalog marks a title as
// released regardless of episode counts.
const ReasonReleased = "catalog status released"

// Outcome describes what a check did to an entry.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeErrored   Outcome = "errored"
	OutcomeSkipped   Outcome = "skipped"
)

func allAiredReason(aired, total int) string {
	return fmt.Sprintf("all episodes aired (%d/%d)", aired, total)
}

// applyDetails folds fresh catalog details into e. Only planned entries are
// ever moved, and only to completed. An unchanged outcome means e need not be
// written, which keeps repeated runs over unchanged data from touching the
// library.
func applyDetails(e *library.Entry, d *catalog.Details, now time.Time) Outcome {
	before := material(*e)

	e.ApplyRemote(d)
	e.LastStatusCheckAt = now
	e.LastCheckError = nil

	if e.Status == library.StatusPlanned && catalog.IsAiring(d.Status) && !observedAiring(*e) {
		e.AppendHistory(library.StatusPlanned, library.StatusPlanned, library.ReasonObservedAiring, true, now)
	}
	if e.Status == library.StatusPlanned {
		reason := ""
		switch {
		case e.FullyAired():
			reason = allAiredReason(e.EpisodesAired, e.EpisodesTotal)
		case catalog.IsReleased(d.Status):
			reason = ReasonReleased
		}
		if reason != "" {
			e.AppendHistory(library.StatusPlanned, library.StatusCompleted, reason, true, now)
			e.Status = library.StatusCompleted
			return OutcomeCompleted
		}
	}
	if !material(*e).equal(before) {
		return OutcomeUpdated
	}
	return OutcomeUnchanged
}

// recordFailure stores a failed check on e.
func recordFailure(e *library.Entry, err error, now time.Time) {
	e.LastStatusCheckAt = now
	e.LastCheckError = &library.CheckError{
		Kind:    services.Kind(err),
		Message: services.Summary(err),
		At:      now,
	}
}

func observedAiring(e library.Entry) bool {
	return slices.ContainsFunc(e.History, func(h library.HistoryRecord) bool {
		return h.Reason == library.ReasonObservedAiring
	})
}

type snapshot struct {
	status        library.Status
	total, aired  int
	remote        string
	next, airedOn time.Time
	duration      int
	history       int
	title         string
	failed        bool
}

func material(e library.Entry) snapshot {
	return snapshot{
		status:   e.Status,
		total:    e.EpisodesTotal,
		aired:    e.EpisodesAired,
		remote:   e.RemoteStatus,
		next:     e.NextEpisodeAt,
		airedOn:  e.AiredOn,
		duration: e.EpisodeDurationMinutes,
		history:  len(e.History),
		title:    e.Title,
		failed:   e.LastCheckError != nil,
	}
}

func (s snapshot) equal(o snapshot) bool {
	return s.status == o.status && s.total == o.total && s.aired == o.aired &&
		s.remote == o.remote && s.next.Equal(o.next) && s.airedOn.Equal(o.airedOn) &&
		s.duration == o.duration && s.history == o.history && s.title == o.title &&
		s.failed == o.failed
}
