package discovery

import (
	"time"

	"tsundoku/internal/catalog"
)

// DefaultFutureWindow is how long after its premiere a released title still
// counts as an announcement.
const DefaultFutureWindow = 365 * 24 * time.Hour

var allowedRelations = map[string]struct{}{
	catalog.RelationSequel:    {},
	catalog.RelationPrequel:   {},
	catalog.RelationSpinOff:   {},
	catalog.RelationSideStory: {},
}

var allowedKinds = map[string]struct{}{
	"tv": {}, "movie": {}, "ova": {}, "ona": {}, "special": {},
}

// IsFutureRelease classifies a related title. Announced and airing titles
// always qualify. Released titles qualify when they premiered within window
// or their premiere date is unknown. Titles without a status qualify when
// they premiere in the future or premiered within window.
func IsFutureRelease(status string, airedOn, now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultFutureWindow
	}
	switch catalog.NormalizeStatus(status) {
	case catalog.StatusAnnounced, catalog.StatusOngoing:
		return true
	case catalog.StatusReleased:
		return airedOn.IsZero() || airedOn.After(now.Add(-window))
	case "":
		return !airedOn.IsZero() && airedOn.After(now.Add(-window))
	default:
		return false
	}
}

// Candidate reports whether a relation edge may become an announcement:
// an allowed relation kind, an anime kind and a future release.
func Candidate(edge catalog.RelationEdge, now time.Time, window time.Duration) bool {
	if edge.Summary.ID <= 0 {
		return false
	}
	if _, ok := allowedRelations[catalog.NormalizeRelationKind(edge.RelationKind)]; !ok {
		return false
	}
	if _, ok := allowedKinds[edge.Summary.Kind]; !ok {
		return false
	}
	return IsFutureRelease(edge.Summary.Status, edge.Summary.AiredOn, now, window)
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
