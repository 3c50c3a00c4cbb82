// Package update checks the CustomTools release feed for newer versions.
//
// The checker is notify-only: it reports available updates and never
// installs anything. Feed responses are cached on disk so interactive
// startup stays fast and offline use keeps working.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Payhn/CustomTools/internal/metrics"
	"github.com/Payhn/CustomTools/pkg/httputil"
)

// DefaultCacheTTL is how long a cached feed response stays fresh.
const DefaultCacheTTL = 24 * time.Hour

// ErrFeedUnavailable is returned when the release feed cannot be fetched
// and no fresh cache exists.
var ErrFeedUnavailable = errors.New("release feed unavailable")

// Manifest is the release feed document: tool name to latest version.
type Manifest struct {
	Tools map[string]string `json:"tools"`
}

// cacheEnvelope is the on-disk cache format. The timestamp is unix seconds;
// float tolerates caches written by earlier tool generations.
type cacheEnvelope struct {
	Timestamp float64  `json:"timestamp"`
	Versions  Manifest `json:"versions"`
}

// ToolStatus reports one tool from the feed against the running version.
type ToolStatus struct {
	Name     string
	Current  string
	Latest   string
	Outdated bool
}

// Status is the outcome of an update check.
type Status struct {
	// Checked is when the underlying feed data was obtained.
	Checked time.Time

	// FromCache reports whether the feed came from the on-disk cache.
	FromCache bool

	// Tools lists feed entries sorted by name.
	Tools []ToolStatus
}

// UpdatesAvailable reports whether any tool in the feed is newer than the
// running version.
func (s *Status) UpdatesAvailable() bool {
	for _, t := range s.Tools {
		if t.Outdated {
			return true
		}
	}
	return false
}

// Summary renders the check result as a console banner.
func (s *Status) Summary() string {
	var sb strings.Builder
	divider := strings.Repeat("=", 60)

	sb.WriteString(divider + "\n")
	sb.WriteString("CustomTools Update Check\n")
	sb.WriteString(divider + "\n")

	for _, t := range s.Tools {
		if t.Outdated {
			fmt.Fprintf(&sb, "%s: %s → %s [UPDATE]\n", t.Name, t.Current, t.Latest)
		} else {
			fmt.Fprintf(&sb, "%s: %s (up to date)\n", t.Name, t.Latest)
		}
	}
	if len(s.Tools) == 0 {
		sb.WriteString("No tools listed in the release feed.\n")
	}

	sb.WriteString(divider)
	return sb.String()
}

// Checker fetches and caches the release feed.
type Checker struct {
	url       string
	cachePath string
	cacheTTL  time.Duration
	current   string
	client    *http.Client
	logger    *slog.Logger
}

// Option is a functional option for configuring the Checker.
type Option func(*Checker)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) {
		if client != nil {
			c.client = client
		}
	}
}

// WithCacheTTL overrides the cache freshness window.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Checker) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// New creates a Checker for the given feed URL. currentVersion is the
// running build's version; non-numeric versions (like "dev") never count
// as outdated. cachePath may be empty to disable the on-disk cache.
func New(url, cachePath, currentVersion string, opts ...Option) *Checker {
	c := &Checker{
		url:       url,
		cachePath: cachePath,
		cacheTTL:  DefaultCacheTTL,
		current:   currentVersion,
		client:    httputil.NewClient(httputil.WithUserAgent("customtools/" + currentVersion)),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Check obtains the release feed, preferring a fresh cache, and compares
// every listed tool against the running version.
func (c *Checker) Check(ctx context.Context) (*Status, error) {
	if manifest, checked, ok := c.loadCache(false); ok {
		c.logger.Debug("update check served from cache",
			slog.String("path", c.cachePath),
			slog.Time("cached_at", checked),
		)
		status := c.buildStatus(manifest, checked, true)
		c.countResult(status)
		return status, nil
	}

	manifest, err := c.fetch(ctx)
	if err != nil {
		// A stale cache beats no answer when the feed is down.
		if manifest, checked, ok := c.loadCache(true); ok {
			c.logger.Warn("release feed unavailable, using stale cache",
				slog.Time("cached_at", checked),
				slog.String("error", err.Error()),
			)
			status := c.buildStatus(manifest, checked, true)
			c.countResult(status)
			return status, nil
		}
		metrics.UpdateChecksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	c.saveCache(manifest)

	status := c.buildStatus(manifest, time.Now(), false)
	c.countResult(status)
	return status, nil
}

func (c *Checker) countResult(status *Status) {
	if status.UpdatesAvailable() {
		metrics.UpdateChecksTotal.WithLabelValues("update_available").Inc()
	} else {
		metrics.UpdateChecksTotal.WithLabelValues("up_to_date").Inc()
	}
}

func (c *Checker) buildStatus(manifest *Manifest, checked time.Time, fromCache bool) *Status {
	status := &Status{
		Checked:   checked,
		FromCache: fromCache,
		Tools:     make([]ToolStatus, 0, len(manifest.Tools)),
	}

	names := make([]string, 0, len(manifest.Tools))
	for name := range manifest.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		latest := manifest.Tools[name]
		status.Tools = append(status.Tools, ToolStatus{
			Name:     name,
			Current:  c.current,
			Latest:   latest,
			Outdated: IsNewer(c.current, latest),
		})
	}

	return status
}

func (c *Checker) fetch(ctx context.Context) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: feed returned %s", ErrFeedUnavailable, resp.Status)
	}

	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("parsing release feed: %w", err)
	}

	return &manifest, nil
}

// loadCache returns the cached manifest when the cache file exists and is
// still fresh. allowStale skips the freshness check, for feed outages.
func (c *Checker) loadCache(allowStale bool) (*Manifest, time.Time, bool) {
	if c.cachePath == "" {
		return nil, time.Time{}, false
	}

	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return nil, time.Time{}, false
	}

	var envelope cacheEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, time.Time{}, false
	}

	cachedAt := time.Unix(int64(envelope.Timestamp), 0)
	if !allowStale && time.Since(cachedAt) >= c.cacheTTL {
		return nil, time.Time{}, false
	}

	return &envelope.Versions, cachedAt, true
}

// saveCache writes the manifest to the cache file. Failures are logged and
// otherwise ignored; a broken cache only costs a refetch.
func (c *Checker) saveCache(manifest *Manifest) {
	if c.cachePath == "" {
		return
	}

	envelope := cacheEnvelope{
		Timestamp: float64(time.Now().Unix()),
		Versions:  *manifest,
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		c.logger.Warn("encoding update cache failed", slog.String("error", err.Error()))
		return
	}

	if err := os.WriteFile(c.cachePath, data, 0o644); err != nil {
		c.logger.Warn("writing update cache failed",
			slog.String("path", c.cachePath),
			slog.String("error", err.Error()),
		)
	}
}

// IsNewer reports whether latest is a strictly newer dotted-numeric version
// than current. Segments are compared numerically with zero padding, so
// "1.0" and "1.0.0" are equal and "1.10" is newer than "1.9". Versions that
// do not parse (like "dev") are never considered outdated.
func IsNewer(current, latest string) bool {
	currentParts, err := parseVersion(current)
	if err != nil {
		return false
	}
	latestParts, err := parseVersion(latest)
	if err != nil {
		return false
	}

	for len(currentParts) < len(latestParts) {
		currentParts = append(currentParts, 0)
	}
	for len(latestParts) < len(currentParts) {
		latestParts = append(latestParts, 0)
	}

	for i := range latestParts {
		if latestParts[i] != currentParts[i] {
			return latestParts[i] > currentParts[i]
		}
	}
	return false
}

func parseVersion(v string) ([]int, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil, errors.New("empty version")
	}

	segments := strings.Split(v, ".")
	parts := make([]int, 0, len(segments))
	for _, seg := range segments {
		n, err := strconv.Atoi(seg)
		if err != nil {
			return nil, fmt.Errorf("invalid version segment %q", seg)
		}
		parts = append(parts, n)
	}
	return parts, nil
}
