package library_test

import (
	"fmt"
	"testing"
	"time"

	"tsundoku/internal/library"
)

func TestSelectorsAreMutuallyExclusive(t *testing.T) {
	now := baseTime
	day := 24 * time.Hour
	statuses := append(library.AllStatuses(), library.Status(""))
	remotes := []string{"", "anons", "ongoing", "released"}
	counts := [][2]int{{0, 0}, {12, 0}, {12, 5}, {12, 12}, {0, 3}, {12, 14}}
	offsets := []time.Duration{0, -2 * day, 2 * day, 45 * day, 120 * day}
	ages := []time.Duration{day, 40 * day}

	for _, status := range statuses {
		for _, remote := range remotes {
			for _, c := range counts {
				for _, next := range offsets {
					for _, aired := range offsets {
						for _, age := range ages {
							for _, observed := range []bool{false, true} {
								e := library.Entry{
									ID:            1,
									Status:        status,
									RemoteStatus:  remote,
									EpisodesTotal: c[0],
									EpisodesAired: c[1],
									AddedAt:       now.Add(-age),
								}
								if next != 0 {
									e.NextEpisodeAt = now.Add(next)
								}
								if aired != 0 {
									e.AiredOn = now.Add(aired)
								}
								if observed {
									e.AppendHistory(library.StatusPlanned, library.StatusPlanned, library.ReasonObservedAiring, true, now.Add(-day))
								}
								ready := library.IsReadyToWatch(e, now)
								waiting := library.IsWaitingForEpisodes(e, now)
								if ready && waiting {
									t.Fatalf("entry in both groups: %s", describe(e))
								}
								if status != library.StatusPlanned && (ready || waiting) {
									t.Fatalf("non-planned entry selected: %s", describe(e))
								}
							}
						}
					}
				}
			}
		}
	}
}

func describe(e library.Entry) string {
	return fmt.Sprintf("status=%q remote=%q episodes=%d/%d next=%v aired=%v added=%v history=%d",
		e.Status, e.RemoteStatus, e.EpisodesAired, e.EpisodesTotal, e.NextEpisodeAt, e.AiredOn, e.AddedAt, len(e.History))
}

func TestReadyToWatch(t *testing.T) {
	now := baseTime
	tests := []struct {
		name  string
		entry library.Entry
		want  bool
	}{
		{"fully aired", library.Entry{Status: library.StatusPlanned, EpisodesTotal: 12, EpisodesAired: 12, AddedAt: now}, true},
		{"partially aired", library.Entry{Status: library.StatusPlanned, EpisodesTotal: 12, EpisodesAired: 11, AddedAt: now}, false},
		{"unknown total", library.Entry{Status: library.StatusPlanned, EpisodesAired: 3, AddedAt: now}, false},
		{"watching", library.Entry{Status: library.StatusWatching, EpisodesTotal: 1, EpisodesAired: 1, AddedAt: now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := library.IsReadyToWatch(tt.entry, now); got != tt.want {
				t.Fatalf("IsReadyToWatch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWaitingForEpisodes(t *testing.T) {
	now := baseTime
	day := 24 * time.Hour
	tests := []struct {
		name  string
		entry library.Entry
		want  bool
	}{
		{"airing", library.Entry{Status: library.StatusPlanned, RemoteStatus: "ongoing"}, true},
		{"next episode soon", library.Entry{Status: library.StatusPlanned, NextEpisodeAt: now.Add(3 * day)}, true},
		{"next episode far", library.Entry{Status: library.StatusPlanned, NextEpisodeAt: now.Add(45 * day)}, false},
		{"next episode past", library.Entry{Status: library.StatusPlanned, NextEpisodeAt: now.Add(-day)}, false},
		{"partially aired", library.Entry{Status: library.StatusPlanned, EpisodesTotal: 12, EpisodesAired: 6}, true},
		{"premiere soon", library.Entry{Status: library.StatusPlanned, AiredOn: now.Add(60 * day)}, true},
		{"premiere far", library.Entry{Status: library.StatusPlanned, AiredOn: now.Add(120 * day)}, false},
		{"released", library.Entry{Status: library.StatusPlanned, RemoteStatus: "released", EpisodesTotal: 12, EpisodesAired: 6}, false},
		{"fully aired", library.Entry{Status: library.StatusPlanned, RemoteStatus: "ongoing", EpisodesTotal: 12, EpisodesAired: 12}, false},
		{"postponed", library.Entry{Status: library.StatusPostponed, RemoteStatus: "ongoing"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := library.IsWaitingForEpisodes(tt.entry, now); got != tt.want {
				t.Fatalf("IsWaitingForEpisodes = %v, want %v", got, tt.want)
			}
		})
	}
}
