package catalog

import (
	"regexp"
	"strings"
)

// MissingPosterSentinel is the file name the catalog serves when a title has
// no artwork.
const MissingPosterSentinel = "missing_original.jpg"

// globalAssetsPath prefixes the catalog's generic site assets, never artwork.
const globalAssetsPath = "/assets/globals/"

var bareImageName = regexp.MustCompile(`(?i)^\d+\.(?:jpe?g|png|webp)$`)

// IsMissingPoster reports whether url is empty or points at the catalog's
// missing-artwork sentinel or generic site assets.
func IsMissingPoster(url string) bool {
	url = strings.TrimSpace(url)
	return url == "" || strings.Contains(url, MissingPosterSentinel) || strings.Contains(url, globalAssetsPath)
}

// NormalizePosterURL turns the catalog's image references into absolute URLs.
// Relative paths are resolved against siteURL, bare file names such as
// "1234.jpg" map to the original-size artwork path, and query strings are
// dropped. The missing-artwork sentinel normalizes to "".
func NormalizePosterURL(siteURL, raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		raw = raw[:idx]
	}
	if IsMissingPoster(raw) {
		return ""
	}
	site := strings.TrimRight(strings.TrimSpace(siteURL), "/")
	switch {
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "/"):
		return site + raw
	case bareImageName.MatchString(raw):
		return site + "/system/animes/original/" + raw
	default:
		return raw
	}
}

func posterFromImage(siteURL string, img *wireImage) string {
	if img == nil {
		return ""
	}
	for _, candidate := range []string{img.Original, img.Preview, img.X96, img.X48} {
		if url := NormalizePosterURL(siteURL, candidate); url != "" {
			return url
		}
	}
	return ""
}
