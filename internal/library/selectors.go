package library

import (
	"time"

	"tsundoku/internal/catalog"
)

const (
	readyGracePeriod  = 30 * 24 * time.Hour
	nextEpisodeWindow = 30 * 24 * time.Hour
	premiereWindow    = 90 * 24 * time.Hour
)

// IsReadyToWatch reports whether a planned entry has every episode out and
// has either been observed waiting or sat in the library past the grace
// period.
func IsReadyToWatch(e Entry, now time.Time) bool {
	if e.Status != StatusPlanned || !e.FullyAired() {
		return false
	}
	return hasWaitingEvidence(e) || now.Sub(e.AddedAt) > readyGracePeriod
}

func hasWaitingEvidence(e Entry) bool {
	if catalog.IsReleased(e.RemoteStatus) || e.EpisodesAired > 0 {
		return true
	}
	for _, h := range e.History {
		if h.Reason == ReasonObservedAiring {
			return true
		}
	}
	return false
}

// IsWaitingForEpisodes reports whether a planned entry is still airing or
// about to. It is never true together with IsReadyToWatch.
func IsWaitingForEpisodes(e Entry, now time.Time) bool {
	if e.Status != StatusPlanned || e.FullyAired() || catalog.IsReleased(e.RemoteStatus) {
		return false
	}
	if catalog.IsAiring(e.RemoteStatus) {
		return true
	}
	if within(e.NextEpisodeAt, now, nextEpisodeWindow) {
		return true
	}
	if e.EpisodesTotal > 0 && e.EpisodesAired > 0 && e.EpisodesAired < e.EpisodesTotal {
		return true
	}
	return within(e.AiredOn, now, premiereWindow)
}

// within reports whether t lies in (now, now+window].
func within(t, now time.Time, window time.Duration) bool {
	if t.IsZero() || !t.After(now) {
		return false
	}
	return t.Sub(now) <= window
}

// ReadyToWatch returns the planned entries ready to start.
func (l *Library) ReadyToWatch() []Entry {
	now := l.now()
	return l.filter(func(e Entry) bool { return IsReadyToWatch(e, now) })
}

// WaitingForEpisodes returns the planned entries still airing.
func (l *Library) WaitingForEpisodes() []Entry {
	now := l.now()
	return l.filter(func(e Entry) bool { return IsWaitingForEpisodes(e, now) })
}
