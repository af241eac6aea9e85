package library

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Default per-episode runtimes in minutes when the catalog reported none.
const (
	movieMinutes   = 90
	specialMinutes = 45
	shortMinutes   = 30
	tvMinutes      = 24
)

// demographic labels are audience tags rather than genres.
var demographicGenres = map[string]struct{}{
	"shounen": {}, "shoujo": {}, "seinen": {}, "josei": {}, "kids": {},
	"сёнен": {}, "сёдзё": {}, "сэйнэн": {}, "дзёсэй": {}, "детское": {},
}

// WatchStats summarizes the library for the profile view.
type WatchStats struct {
	Total             int            `json:"total"`
	ByStatus          map[Status]int `json:"byStatus"`
	WatchedEpisodes   int            `json:"watchedEpisodes"`
	WatchMinutes      int            `json:"watchMinutes"`
	Days              int            `json:"days"`
	Hours             int            `json:"hours"`
	Minutes           int            `json:"minutes"`
	AverageScore      float64        `json:"averageScore"`
	CompletionPercent int            `json:"completionPercent"`
	FavoriteGenre     string         `json:"favoriteGenre,omitempty"`
	LibraryCreated    time.Time      `json:"libraryCreated,omitzero"`
}

// TotalHours returns the whole hours of watch time.
func (s WatchStats) TotalHours() int { return s.WatchMinutes / 60 }

// EpisodeMinutes returns the stored runtime of e or the default for its kind.
func EpisodeMinutes(e Entry) int {
	if e.EpisodeDurationMinutes > 0 {
		return e.EpisodeDurationMinutes
	}
	switch strings.ToLower(e.Kind) {
	case "movie":
		return movieMinutes
	case "special", "tv_special":
		return specialMinutes
	case "ova", "ona":
		return shortMinutes
	default:
		return tvMinutes
	}
}

// WatchedEpisodes counts the episodes of a completed entry: the recorded
// progress when set, otherwise every episode.
func WatchedEpisodes(e Entry) int {
	if e.CurrentEpisode > 0 {
		return e.CurrentEpisode
	}
	return max(e.EpisodesTotal, 0)
}

// ComputeStats derives WatchStats from entries. Watch time counts completed
// entries only.
func ComputeStats(entries []Entry) WatchStats {
	stats := WatchStats{ByStatus: make(map[Status]int, len(allStatuses))}
	for _, status := range allStatuses {
		stats.ByStatus[status] = 0
	}
	var (
		scoreSum float64
		scored   int
		genres   = make(map[string]int)
	)
	for _, e := range entries {
		stats.Total++
		stats.ByStatus[e.Status]++
		if e.Score > 0 {
			scoreSum += e.Score
			scored++
		}
		for _, g := range e.Genres {
			if _, skip := demographicGenres[strings.ToLower(g)]; !skip && g != "" {
				genres[g]++
			}
		}
		if e.Status != StatusCompleted {
			continue
		}
		watched := WatchedEpisodes(e)
		stats.WatchedEpisodes += watched
		stats.WatchMinutes += watched * EpisodeMinutes(e)
	}
	totalHours := stats.WatchMinutes / 60
	stats.Minutes = stats.WatchMinutes % 60
	stats.Days = totalHours / 24
	stats.Hours = totalHours % 24
	if scored > 0 {
		stats.AverageScore = math.Round(scoreSum/float64(scored)*10) / 10
	}
	if stats.Total > 0 {
		stats.CompletionPercent = int(math.Round(float64(stats.ByStatus[StatusCompleted]) / float64(stats.Total) * 100))
	}
	stats.FavoriteGenre = topGenre(genres)
	return stats
}

func topGenre(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Stats computes WatchStats over the current library.
func (l *Library) Stats() WatchStats {
	stats := ComputeStats(l.All())
	stats.LibraryCreated = l.Created()
	return stats
}
