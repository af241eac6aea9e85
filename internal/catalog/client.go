package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"tsundoku/internal/config"
	"tsundoku/internal/logging"
	"tsundoku/internal/reqcache"
	"tsundoku/internal/services"
)

const (
	defaultUserAgent   = "Tsundoku/1.0"
	defaultSiteURL     = "https://shikimori.one"
	defaultTimeout     = 20 * time.Second
	defaultSearchLimit = 20
	// MinQueryLength is the shortest search query sent to the catalog.
	MinQueryLength = 2
	maxBodyBytes   = 8 << 20
)

var bbcodeTag = regexp.MustCompile(`\[/?[a-zA-Z_]+(?:=[^\]]*)?\]`)

// Recorder receives one observation per live catalog request.
type Recorder interface {
	ObserveRequest(op, outcome string, latency time.Duration)
}

// Client provides cached access to the catalog.
type Client struct {
	baseURL     string
	siteURL     string
	userAgent   string
	searchLimit int
	httpClient  *http.Client
	cache       *reqcache.Cache
	recorder    Recorder
	logger      *slog.Logger
	sanitizer   *bluemonday.Policy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithCache routes every operation through the request cache.
func WithCache(cache *reqcache.Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(agent string) Option {
	return func(c *Client) {
		if agent = strings.TrimSpace(agent); agent != "" {
			c.userAgent = agent
		}
	}
}

// WithSiteURL sets the origin used to resolve relative poster paths.
func WithSiteURL(site string) Option {
	return func(c *Client) {
		if site = strings.TrimSpace(site); site != "" {
			c.siteURL = strings.TrimRight(site, "/")
		}
	}
}

// WithSearchLimit sets the result count used when Search receives limit <= 0.
func WithSearchLimit(limit int) Option {
	return func(c *Client) {
		if limit > 0 {
			c.searchLimit = limit
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(c *Client) { c.recorder = recorder }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.NewComponentLogger(logger, "catalog") }
}

// New creates a catalog client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "new", "catalog base url required", nil)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "new", "parse base url", err)
	}
	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		siteURL:     defaultSiteURL,
		userAgent:   defaultUserAgent,
		searchLimit: defaultSearchLimit,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		logger:      logging.NewComponentLogger(nil, "catalog"),
		sanitizer:   bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// NewFromConfig builds a client from the [catalog] config section.
func NewFromConfig(cfg *config.Config, cache *reqcache.Cache, recorder Recorder, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "new", "config required", nil)
	}
	return New(cfg.Catalog.BaseURL,
		WithTimeout(cfg.CatalogTimeout()),
		WithSiteURL(cfg.Catalog.SiteURL),
		WithUserAgent(cfg.Catalog.UserAgent),
		WithSearchLimit(cfg.Catalog.SearchLimit),
		WithCache(cache),
		WithRecorder(recorder),
		WithLogger(logger),
	)
}

// SiteURL returns the origin used for poster normalization.
func (c *Client) SiteURL() string { return c.siteURL }

// Search looks up titles by name, ordered by popularity. Queries shorter
// than MinQueryLength runes return an empty slice without a request.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Summary, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		return []Summary{}, nil
	}
	if limit <= 0 {
		limit = c.searchLimit
	}
	params := url.Values{}
	params.Set("search", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("order", "popularity")

	var wire []wireAnime
	key := reqcache.Key(reqcache.OpSearch, query, strconv.Itoa(limit))
	if err := c.get(ctx, reqcache.OpSearch, key, "/animes", params, &wire); err != nil {
		return nil, err
	}
	results := make([]Summary, 0, len(wire))
	for _, item := range wire {
		if item.ID <= 0 {
			continue
		}
		results = append(results, c.summary(item))
	}
	return results, nil
}

// Details fetches the full description of one title.
func (c *Client) Details(ctx context.Context, id int64) (*Details, error) {
	if id <= 0 {
		return nil, services.Wrap(services.ErrValidation, "catalog", "details", fmt.Sprintf("invalid title id %d", id), nil)
	}
	var wire wireAnime
	key := reqcache.Key(reqcache.OpDetails, strconv.FormatInt(id, 10))
	if err := c.get(ctx, reqcache.OpDetails, key, fmt.Sprintf("/animes/%d", id), nil, &wire); err != nil {
		return nil, err
	}
	if wire.ID <= 0 {
		wire.ID = flexInt(id)
	}
	return c.details(wire), nil
}

// Related lists the anime related to a title. Edges pointing at non-anime
// works (manga, novels) are dropped.
func (c *Client) Related(ctx context.Context, id int64) ([]RelationEdge, error) {
	if id <= 0 {
		return nil, services.Wrap(services.ErrValidation, "catalog", "related", fmt.Sprintf("invalid title id %d", id), nil)
	}
	var wire []wireRelation
	key := reqcache.Key(reqcache.OpRelated, strconv.FormatInt(id, 10))
	if err := c.get(ctx, reqcache.OpRelated, key, fmt.Sprintf("/animes/%d/related", id), nil, &wire); err != nil {
		return nil, err
	}
	edges := make([]RelationEdge, 0, len(wire))
	for _, rel := range wire {
		raw := bytes.TrimSpace(rel.Anime)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		var anime wireAnime
		if err := json.Unmarshal(raw, &anime); err != nil || anime.ID <= 0 {
			continue
		}
		kind := rel.RelationKind
		if strings.TrimSpace(kind) == "" {
			kind = rel.Relation
		}
		edges = append(edges, RelationEdge{
			RelationKind: NormalizeRelationKind(kind),
			Summary:      c.summary(anime),
			Raw:          append(json.RawMessage(nil), raw...),
		})
	}
	return edges, nil
}

// get serves op from the cache or performs one live GET, decoding into dst.
// Only payloads that decode cleanly are cached.
func (c *Client) get(ctx context.Context, op reqcache.Op, key, path string, params url.Values, dst any) error {
	if c.cache != nil {
		if payload, ok := c.cache.Get(ctx, op, key); ok {
			if err := json.Unmarshal(payload, dst); err == nil {
				return nil
			}
			_ = c.cache.Invalidate(ctx, op, key)
		}
	}

	start := time.Now()
	body, err := c.fetch(ctx, op, path, params)
	if err == nil {
		if decodeErr := json.Unmarshal(body, dst); decodeErr != nil {
			err = services.Wrap(services.ErrMalformedResponse, "catalog", string(op), "decode response", decodeErr)
		}
	}
	c.observe(op, err, time.Since(start))
	if err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.Put(ctx, op, key, json.RawMessage(body))
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, op reqcache.Op, path string, params url.Values) ([]byte, error) {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", string(op), "parse url", err)
	}
	if len(params) > 0 {
		endpoint.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "catalog", string(op), "build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "catalog", string(op), fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "catalog", string(op), "read response", err)
	}
	if err := classifyStatus(op, resp.StatusCode); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, services.Wrap(services.ErrMalformedResponse, "catalog", string(op),
			fmt.Sprintf("non-JSON body: %q", snippet(trimmed)), nil)
	}
	c.logger.Debug("catalog request",
		logging.String(logging.FieldOp, string(op)),
		logging.String("path", path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("latency", latency),
	)
	return trimmed, nil
}

func classifyStatus(op reqcache.Op, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return services.Wrap(services.ErrRateLimited, "catalog", string(op), "HTTP 429", nil)
	case status == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "catalog", string(op), "HTTP 404", nil)
	default:
		// Other 4xx responses have no dedicated kind.
		return services.Wrap(services.ErrServer, "catalog", string(op), fmt.Sprintf("HTTP %d", status), nil)
	}
}

func snippet(body []byte) string {
	const limit = 100
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}

func (c *Client) observe(op reqcache.Op, err error, latency time.Duration) {
	if c.recorder == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = services.Kind(err)
		if errors.Is(err, context.Canceled) {
			outcome = "canceled"
		}
	}
	c.recorder.ObserveRequest(string(op), outcome, latency)
}

func (c *Client) summary(w wireAnime) Summary {
	title := strings.TrimSpace(w.Russian)
	if title == "" {
		title = strings.TrimSpace(w.Name)
	}
	original := strings.TrimSpace(w.Name)
	if original == title {
		original = ""
	}
	return Summary{
		ID:            int64(w.ID),
		Title:         title,
		OriginalTitle: original,
		Kind:          strings.ToLower(strings.TrimSpace(w.Kind)),
		Score:         float64(w.Score),
		Episodes:      max(int(w.Episodes), 0),
		EpisodesAired: max(int(w.EpisodesAired), 0),
		Status:        NormalizeStatus(w.Status),
		AiredOn:       parseDate(w.AiredOn),
		ReleasedOn:    parseDate(w.ReleasedOn),
		PosterURL:     posterFromImage(c.siteURL, w.Image),
	}
}

func (c *Client) details(w wireAnime) *Details {
	d := &Details{
		Summary:         c.summary(w),
		NextEpisodeAt:   parseDate(w.NextEpisodeAt),
		DurationMinutes: max(int(w.Duration), 0),
		Description:     c.cleanDescription(w),
	}
	d.EpisodesTotal = d.Episodes
	for _, g := range w.Genres {
		name := strings.TrimSpace(g.Russian)
		if name == "" {
			name = strings.TrimSpace(g.Name)
		}
		if name != "" {
			d.Genres = append(d.Genres, name)
		}
	}
	return d
}

func (c *Client) cleanDescription(w wireAnime) string {
	text := w.DescriptionHTML
	if strings.TrimSpace(text) == "" {
		text = w.Description
	}
	text = bbcodeTag.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "<br", " <br")
	text = html.UnescapeString(c.sanitizer.Sanitize(text))
	return strings.Join(strings.Fields(text), " ")
}
