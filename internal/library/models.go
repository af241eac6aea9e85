package library

import (
	"slices"
	"strings"
	"time"

	"tsundoku/internal/catalog"
)

// Status is the user's watch status for a title.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusWatching  Status = "watching"
	StatusCompleted Status = "completed"
	StatusPostponed Status = "postponed"
)

var allStatuses = []Status{StatusPlanned, StatusWatching, StatusCompleted, StatusPostponed}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(allStatuses, normalized) {
		return normalized, true
	}
	return "", false
}

// PlaceholderPoster is stored when no artwork is known for a title.
const PlaceholderPoster = "assets/placeholder-poster.png"

// History reasons written by automated transitions and observations.
const (
	ReasonObservedAiring = "ongoing"
	ReasonUserEdit       = "manual edit"
	ReasonPromoted       = "promoted from announcements"
)

// HistoryRecord is one append-only provenance entry.
type HistoryRecord struct {
	From      Status    `json:"from,omitempty"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason"`
	ChangedAt time.Time `json:"changedAt"`
	Automated bool      `json:"automated,omitempty"`
}

// CheckError records the last failed remote refresh of an entry.
type CheckError struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Origin marks entries promoted from an announcement. SourceTitleID is a weak
// reference to the completed title the announcement was discovered from.
type Origin struct {
	FromAnnouncement bool   `json:"fromAnnouncement"`
	SourceTitleID    int64  `json:"sourceTitleId,omitempty"`
	RelationKind     string `json:"relationKind,omitempty"`
}

// Entry is one tracked title.
type Entry struct {
	ID                     int64           `json:"id"`
	Title                  string          `json:"title"`
	OriginalTitle          string          `json:"originalTitle,omitempty"`
	Kind                   string          `json:"kind,omitempty"`
	EpisodesTotal          int             `json:"episodesTotal"`
	EpisodesAired          int             `json:"episodesAired"`
	Status                 Status          `json:"status"`
	CurrentEpisode         int             `json:"currentEpisode"`
	PosterURL              string          `json:"posterUrl"`
	PosterIsCustomOverride bool            `json:"posterIsCustomOverride,omitempty"`
	RemoteStatus           string          `json:"remoteStatus,omitempty"`
	AiredOn                time.Time       `json:"airedOn,omitzero"`
	NextEpisodeAt          time.Time       `json:"nextEpisodeAt,omitzero"`
	EpisodeDurationMinutes int             `json:"episodeDurationMinutes,omitempty"`
	Score                  float64         `json:"score,omitempty"`
	Genres                 []string        `json:"genres,omitempty"`
	AddedAt                time.Time       `json:"addedAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
	LastStatusCheckAt      time.Time       `json:"lastStatusCheckAt,omitzero"`
	LastCheckError         *CheckError     `json:"lastCheckError,omitempty"`
	History                []HistoryRecord `json:"history,omitempty"`
	Origin                 *Origin         `json:"origin,omitempty"`
}

// Clone returns a deep copy so callers never alias stored slices.
func (e Entry) Clone() Entry {
	e.Genres = slices.Clone(e.Genres)
	e.History = slices.Clone(e.History)
	if e.LastCheckError != nil {
		cp := *e.LastCheckError
		e.LastCheckError = &cp
	}
	if e.Origin != nil {
		cp := *e.Origin
		e.Origin = &cp
	}
	return e
}

// FullyAired reports whether every known episode has aired.
func (e Entry) FullyAired() bool {
	return e.EpisodesTotal > 0 && e.EpisodesAired >= e.EpisodesTotal
}

// AppendHistory records a transition stamped at now.
func (e *Entry) AppendHistory(from, to Status, reason string, automated bool, now time.Time) {
	e.History = append(e.History, HistoryRecord{
		From:      from,
		To:        to,
		Reason:    reason,
		ChangedAt: now,
		Automated: automated,
	})
}

// ApplyRemote copies remote lifecycle fields from catalog details without
// touching status, progress or poster provenance.
func (e *Entry) ApplyRemote(d *catalog.Details) {
	if d == nil {
		return
	}
	if d.Title != "" {
		e.Title = d.Title
	}
	if d.OriginalTitle != "" {
		e.OriginalTitle = d.OriginalTitle
	}
	if d.Kind != "" {
		e.Kind = d.Kind
	}
	e.EpisodesTotal = d.EpisodesTotal
	e.EpisodesAired = d.EpisodesAired
	if e.EpisodesTotal > 0 && e.CurrentEpisode > e.EpisodesTotal {
		e.CurrentEpisode = e.EpisodesTotal
	}
	e.RemoteStatus = d.Status
	if !d.AiredOn.IsZero() {
		e.AiredOn = d.AiredOn
	}
	e.NextEpisodeAt = d.NextEpisodeAt
	if d.DurationMinutes > 0 {
		e.EpisodeDurationMinutes = d.DurationMinutes
	}
	if d.Score > 0 {
		e.Score = d.Score
	}
	if len(d.Genres) > 0 {
		e.Genres = slices.Clone(d.Genres)
	}
}

// Draft is the caller's view of an entry passed to Upsert. Entry.PosterURL
// is treated as a previously stored poster; CustomPosterURL is an explicit
// user override and RemotePosterURL the catalog artwork.
type Draft struct {
	Entry
	CustomPosterURL string
	RemotePosterURL string
}

// DraftFromDetails builds a draft for a catalog title with the given status.
func DraftFromDetails(d *catalog.Details, status Status) Draft {
	var e Entry
	e.ID = d.ID
	e.Status = status
	e.ApplyRemote(d)
	return Draft{Entry: e, RemotePosterURL: d.PosterURL}
}
