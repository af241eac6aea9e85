package library

import (
	"strings"

	"tsundoku/internal/catalog"
)

// isPlaceholder reports whether url carries no real artwork.
func isPlaceholder(url string) bool {
	url = strings.TrimSpace(url)
	return url == "" || url == PlaceholderPoster || catalog.IsMissingPoster(url)
}

// NeedsPoster reports whether e shows the placeholder and has no user
// override, which makes it eligible for artwork restoration.
func (e Entry) NeedsPoster() bool {
	return !e.PosterIsCustomOverride && isPlaceholder(e.PosterURL)
}

// resolvePoster picks the effective poster for an upsert. Priority, highest
// first: an existing custom override, an explicitly supplied custom URL, the
// previously stored poster, the remote artwork, the placeholder. The returned
// flag is the new override state.
func resolvePoster(siteURL string, existing *Entry, d Draft) (string, bool) {
	if existing != nil && existing.PosterIsCustomOverride && !isPlaceholder(existing.PosterURL) {
		return existing.PosterURL, true
	}
	if custom := normalizePoster(siteURL, d.CustomPosterURL); !isPlaceholder(custom) {
		return custom, true
	}
	if existing != nil && !isPlaceholder(existing.PosterURL) {
		return existing.PosterURL, false
	}
	if previous := normalizePoster(siteURL, d.PosterURL); !isPlaceholder(previous) {
		return previous, d.PosterIsCustomOverride
	}
	if remote := normalizePoster(siteURL, d.RemotePosterURL); !isPlaceholder(remote) {
		return remote, false
	}
	return PlaceholderPoster, false
}

func normalizePoster(siteURL, url string) string {
	url = strings.TrimSpace(url)
	if url == "" || url == PlaceholderPoster {
		return url
	}
	return catalog.NormalizePosterURL(siteURL, url)
}
