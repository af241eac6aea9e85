package announcements

import (
	"encoding/json"
	"slices"
	"time"

	"tsundoku/internal/catalog"
)

// Entry is one announced title.
type Entry struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	OriginalTitle   string          `json:"originalTitle,omitempty"`
	RelationKind    string          `json:"relationKind"`
	Kind            string          `json:"kind,omitempty"`
	RemoteStatus    string          `json:"remoteStatus,omitempty"`
	AiredOn         time.Time       `json:"airedOn,omitzero"`
	PosterURL       string          `json:"posterUrl,omitempty"`
	CustomPosterURL string          `json:"customPosterUrl,omitempty"`
	AddedAt         time.Time       `json:"addedAt"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// EffectivePoster returns the custom poster when set, otherwise the catalog
// artwork.
func (e Entry) EffectivePoster() string {
	if e.CustomPosterURL != "" {
		return e.CustomPosterURL
	}
	return e.PosterURL
}

func (e Entry) clone() Entry {
	e.Raw = slices.Clone(e.Raw)
	return e
}

// FromEdge builds an announcement from a relation edge.
func FromEdge(edge catalog.RelationEdge, now time.Time) Entry {
	s := edge.Summary
	return Entry{
		ID:            s.ID,
		Title:         s.Title,
		OriginalTitle: s.OriginalTitle,
		RelationKind:  edge.RelationKind,
		Kind:          s.Kind,
		RemoteStatus:  s.Status,
		AiredOn:       s.AiredOn,
		PosterURL:     s.PosterURL,
		AddedAt:       now,
		Raw:           slices.Clone(edge.Raw),
	}
}

// Group holds the announcements discovered from one completed title.
// Announcements keep discovery order.
type Group struct {
	OriginID      int64     `json:"originId"`
	OriginalTitle string    `json:"originalTitle"`
	LastCheckedAt time.Time `json:"lastCheckedAt"`
	Announcements []Entry   `json:"announcements"`
}

func (g Group) clone() Group {
	out := g
	out.Announcements = make([]Entry, len(g.Announcements))
	for i, e := range g.Announcements {
		out.Announcements[i] = e.clone()
	}
	return out
}

func (g Group) index(id int64) int {
	return slices.IndexFunc(g.Announcements, func(e Entry) bool { return e.ID == id })
}

// CheckRecord remembers the last discovery check of a completed title.
type CheckRecord struct {
	LastCheckedAt   time.Time `json:"lastCheckedAt"`
	LastResultCount int       `json:"lastResultCount"`
	LastError       string    `json:"lastError,omitempty"`
	LastErrorKind   string    `json:"lastErrorKind,omitempty"`
}

// Failed reports whether the last check ended in an error.
func (c CheckRecord) Failed() bool {
	return c.LastError != ""
}

// Taken is an announcement removed by Take, kept so it can be restored.
type Taken struct {
	OriginID      int64
	OriginalTitle string
	Position      int
	Entry         Entry
	lastCheckedAt time.Time
}
