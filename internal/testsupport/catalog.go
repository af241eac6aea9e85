package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Anime is one title served by CatalogServer.
type Anime struct {
	ID            int64
	Name          string
	Russian       string
	Kind          string
	Status        string
	Episodes      int
	EpisodesAired int
	AiredOn       string
	Duration      int
	Image         string
	Genres        []string
	Description   string
}

// Relation links a title to a related anime.
type Relation struct {
	Kind  string
	Anime Anime
}

// CatalogServer is a scripted catalog API for tests. It serves search,
// details and related endpoints from in-memory titles and can be told to
// answer any path with a fixed status code.
type CatalogServer struct {
	*httptest.Server

	mu       sync.Mutex
	anime    map[int64]Anime
	related  map[int64][]Relation
	failures map[string]int
	calls    map[string]int
}

// NewCatalogServer starts a server and registers its shutdown.
func NewCatalogServer(t testing.TB) *CatalogServer {
	t.Helper()
	s := &CatalogServer{
		anime:    make(map[int64]Anime),
		related:  make(map[int64][]Relation),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Put adds or replaces a title.
func (s *CatalogServer) Put(a Anime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anime[a.ID] = a
}

// SetRelated replaces the relations of id.
func (s *CatalogServer) SetRelated(id int64, rels ...Relation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.related[id] = rels
}

// Fail makes path answer with status until cleared with status 0.
func (s *CatalogServer) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = status
}

// Calls reports how many requests hit path.
func (s *CatalogServer) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *CatalogServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[r.URL.Path]++
	if status, ok := s.failures[r.URL.Path]; ok {
		http.Error(w, http.StatusText(status), status)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "animes":
		s.writeJSON(w, s.search(r.URL.Query().Get("search")))
	case len(parts) >= 2 && parts[0] == "animes":
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		a, ok := s.anime[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if len(parts) == 3 && parts[2] == "related" {
			out := make([]map[string]any, 0, len(s.related[id]))
			for _, rel := range s.related[id] {
				out = append(out, map[string]any{
					"relation":      rel.Kind,
					"relation_kind": strings.ToLower(rel.Kind),
					"anime":         wire(rel.Anime),
				})
			}
			s.writeJSON(w, out)
			return
		}
		s.writeJSON(w, wire(a))
	default:
		http.NotFound(w, r)
	}
}

func (s *CatalogServer) search(query string) []map[string]any {
	query = strings.ToLower(strings.TrimSpace(query))
	ids := make([]int64, 0, len(s.anime))
	for id, a := range s.anime {
		if strings.Contains(strings.ToLower(a.Name), query) || strings.Contains(strings.ToLower(a.Russian), query) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, wire(s.anime[id]))
	}
	return out
}

func (s *CatalogServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func wire(a Anime) map[string]any {
	out := map[string]any{
		"id":             a.ID,
		"name":           a.Name,
		"russian":        a.Russian,
		"kind":           a.Kind,
		"status":         a.Status,
		"episodes":       a.Episodes,
		"episodes_aired": a.EpisodesAired,
		"duration":       a.Duration,
	}
	if a.AiredOn != "" {
		out["aired_on"] = a.AiredOn
	}
	if a.Image != "" {
		out["image"] = map[string]string{"original": a.Image}
	}
	if a.Description != "" {
		out["description"] = a.Description
	}
	if len(a.Genres) > 0 {
		genres := make([]map[string]string, len(a.Genres))
		for i, g := range a.Genres {
			genres[i] = map[string]string{"name": g, "russian": g}
		}
		out["genres"] = genres
	}
	return out
}
