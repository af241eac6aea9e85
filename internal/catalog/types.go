package catalog

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Remote lifecycle labels reported by the catalog.
const (
	StatusAnnounced = "anons"
	StatusOngoing   = "ongoing"
	StatusReleased  = "released"
)

// Relation kinds after normalization.
const (
	RelationSequel    = "Sequel"
	RelationPrequel   = "Prequel"
	RelationSpinOff   = "Spin-off"
	RelationSideStory = "Side story"
)

// Summary is the compact description of a catalog title returned by search
// and embedded in relation edges.
type Summary struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	OriginalTitle string    `json:"originalTitle,omitempty"`
	Kind          string    `json:"kind,omitempty"`
	Score         float64   `json:"score,omitempty"`
	Episodes      int       `json:"episodes"`
	EpisodesAired int       `json:"episodesAired"`
	Status        string    `json:"status,omitempty"`
	AiredOn       time.Time `json:"airedOn,omitzero"`
	ReleasedOn    time.Time `json:"releasedOn,omitzero"`
	PosterURL     string    `json:"posterUrl,omitempty"`
}

// Details is the full description of a single title.
type Details struct {
	Summary
	EpisodesTotal   int       `json:"episodesTotal"`
	NextEpisodeAt   time.Time `json:"nextEpisodeAt,omitzero"`
	DurationMinutes int       `json:"durationMinutes,omitempty"`
	Genres          []string  `json:"genres,omitempty"`
	Description     string    `json:"description,omitempty"`
}

// RelationEdge links a title to one related anime.
type RelationEdge struct {
	RelationKind string          `json:"relationKind"`
	Summary      Summary         `json:"summary"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// flexInt accepts numbers, numeric strings and null.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	n, err := parseNumber(data)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// flexFloat accepts numbers, numeric strings and null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	n, err := parseNumber(data)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// parseNumber decodes a JSON number or numeric string. Null and
// unparseable strings decode to zero.
func parseNumber(data []byte) (float64, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, nil
		}
		return n, nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, err
	}
	return n, nil
}

type wireImage struct {
	Original string `json:"original"`
	Preview  string `json:"preview"`
	X96      string `json:"x96"`
	X48      string `json:"x48"`
}

type wireGenre struct {
	Name    string `json:"name"`
	Russian string `json:"russian"`
}

type wireAnime struct {
	ID              flexInt     `json:"id"`
	Name            string      `json:"name"`
	Russian         string      `json:"russian"`
	Kind            string      `json:"kind"`
	Score           flexFloat   `json:"score"`
	Status          string      `json:"status"`
	Episodes        flexInt     `json:"episodes"`
	EpisodesAired   flexInt     `json:"episodes_aired"`
	AiredOn         string      `json:"aired_on"`
	ReleasedOn      string      `json:"released_on"`
	NextEpisodeAt   string      `json:"next_episode_at"`
	Duration        flexInt     `json:"duration"`
	Image           *wireImage  `json:"image"`
	Genres          []wireGenre `json:"genres"`
	Description     string      `json:"description"`
	DescriptionHTML string      `json:"description_html"`
}

type wireRelation struct {
	Relation     string          `json:"relation"`
	RelationKind string          `json:"relation_kind"`
	Anime        json.RawMessage `json:"anime"`
}

func parseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t
	}
	return time.Time{}
}

// NormalizeStatus maps remote lifecycle labels to the catalog's canonical
// values. Unknown labels are lowercased and passed through.
func NormalizeStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "announced", "anons", "not_yet_aired":
		return StatusAnnounced
	case "ongoing", "airing", "currently_airing":
		return StatusOngoing
	case "released", "finished", "finished_airing":
		return StatusReleased
	default:
		return status
	}
}

// IsReleased reports whether status marks a fully released title.
func IsReleased(status string) bool {
	return NormalizeStatus(status) == StatusReleased
}

// IsAiring reports whether status marks a currently airing title.
func IsAiring(status string) bool {
	return NormalizeStatus(status) == StatusOngoing
}

// NormalizeRelationKind maps relation labels in either the legacy display
// form ("Side story") or the snake case form ("side_story") to the display
// form used throughout the module.
func NormalizeRelationKind(kind string) string {
	key := strings.ToLower(strings.TrimSpace(kind))
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	switch key {
	case "sequel":
		return RelationSequel
	case "prequel":
		return RelationPrequel
	case "spin off":
		return RelationSpinOff
	case "side story":
		return RelationSideStory
	case "":
		return "Other"
	default:
		return strings.TrimSpace(kind)
	}
}
