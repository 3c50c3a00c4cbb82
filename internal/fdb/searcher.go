package fdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Payhn/CustomTools/internal/metrics"
)

const (
	// DefaultCacheTTL is how long a switch's forwarding table is reused
	// before a search fetches it again.
	DefaultCacheTTL = 15 * time.Minute

	// DefaultCommandTimeout bounds a single command execution on a switch.
	DefaultCommandTimeout = 30 * time.Second

	fdbCommand = "show fdb"
)

// Match describes where a MAC address was found on a switch.
type Match struct {
	// Target is the switch whose forwarding table held the address.
	Target string

	// MAC is the normalized address that was searched for.
	MAC string

	// Line is the forwarding-table line the address matched.
	Line string

	// Port is the switch port the address was learned on, the last column
	// of the matching line.
	Port string

	// PortInfo is the output of "show ports <port> information".
	PortInfo string

	// Neighbors is the output of "show lldp neighbors".
	Neighbors string

	// PortDescription is the output of "show ports <port> description".
	PortDescription string

	// FromCache reports whether the forwarding table was served from cache.
	FromCache bool
}

// PortReport lists the MAC addresses learned on one switch port.
type PortReport struct {
	// Target is the switch the report was taken from.
	Target string

	// Port is the port the report covers.
	Port string

	// MACs holds the addresses learned on the port, in table order and
	// deduplicated.
	MACs []string

	// Description is the output of "show ports <port> description". Empty
	// when the port holds no addresses.
	Description string

	// FromCache reports whether the forwarding table was served from cache.
	FromCache bool
}

// Searcher runs MAC and port lookups against switch forwarding tables over
// pooled connections, caching each switch's table for the configured TTL.
type Searcher struct {
	provider ConnectionProvider
	cacheTTL time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	// now stamps and ages cache entries; swapped out in tests.
	now func() time.Time
}

type cacheEntry struct {
	output    string
	fetchedAt time.Time
}

// Option is a functional option for configuring the Searcher.
type Option func(*Searcher)

// WithLogger sets a custom logger for the searcher.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCacheTTL overrides how long forwarding tables are reused. Zero or
// negative values are ignored.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.cacheTTL = d
		}
	}
}

// WithCommandTimeout bounds each command execution. Zero or negative values
// are ignored.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Searcher backed by the given connection provider.
func New(provider ConnectionProvider, opts ...Option) (*Searcher, error) {
	if provider == nil {
		return nil, errors.New("connection provider is required")
	}

	s := &Searcher{
		provider: provider,
		cacheTTL: DefaultCacheTTL,
		timeout:  DefaultCommandTimeout,
		logger:   slog.Default(),
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Search scans target's forwarding table for mac and, on a hit, fetches the
// port details over the same connection. When the table lists the address on
// several lines the last one wins. A miss returns an error wrapping
// ErrNotFound; force bypasses the table cache.
func (s *Searcher) Search(ctx context.Context, target, mac string, force bool) (*Match, error) {
	norm := NormalizeMAC(mac)
	if norm == "" {
		return nil, errors.New("mac address is required")
	}

	output, fromCache, err := s.FDBOutput(ctx, target, force)
	if err != nil {
		metrics.FDBSearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	line := lastMatchingLine(output, norm)
	if line == "" {
		metrics.FDBSearchesTotal.WithLabelValues("miss").Inc()
		s.logger.Info("mac not in fdb",
			slog.String("target", target),
			slog.String("mac", norm),
		)
		return nil, fmt.Errorf("%w on %s", ErrNotFound, target)
	}

	fields := strings.Fields(line)
	match := &Match{
		Target:    target,
		MAC:       norm,
		Line:      line,
		Port:      fields[len(fields)-1],
		FromCache: fromCache,
	}

	s.logger.Info("mac found in fdb",
		slog.String("target", target),
		slog.String("mac", norm),
		slog.String("port", match.Port),
	)

	if err := s.fetchPortDetails(ctx, target, match); err != nil {
		metrics.FDBSearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.FDBSearchesTotal.WithLabelValues("hit").Inc()
	return match, nil
}

// PortMACs returns the MAC addresses learned on a switch port together with
// the port description. A port with no learned addresses yields an empty
// report, not an error; force bypasses the table cache.
func (s *Searcher) PortMACs(ctx context.Context, target, port string, force bool) (*PortReport, error) {
	if strings.TrimSpace(port) == "" {
		return nil, errors.New("port is required")
	}

	output, fromCache, err := s.FDBOutput(ctx, target, force)
	if err != nil {
		metrics.FDBSearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	report := &PortReport{
		Target:    target,
		Port:      port,
		FromCache: fromCache,
	}

	seen := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, port) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || !isMACCandidate(fields[0]) {
			continue
		}
		norm := NormalizeMAC(fields[0])
		if seen[norm] {
			continue
		}
		seen[norm] = true
		report.MACs = append(report.MACs, fields[0])
	}

	if len(report.MACs) == 0 {
		metrics.FDBSearchesTotal.WithLabelValues("miss").Inc()
		return report, nil
	}

	err = s.withConn(ctx, target, func(conn Conn) error {
		var err error
		report.Description, err = s.runCommand(ctx, conn, "show ports "+port+" description")
		return err
	})
	if err != nil {
		metrics.FDBSearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.FDBSearchesTotal.WithLabelValues("hit").Inc()
	return report, nil
}

// FDBOutput returns target's forwarding table, served from cache when a
// fresh entry exists. A fetch stores the new table regardless of how the
// previous entry aged out.
func (s *Searcher) FDBOutput(ctx context.Context, target string, force bool) (string, bool, error) {
	if !force {
		if output, ok := s.cachedOutput(target); ok {
			s.logger.Debug("fdb served from cache", slog.String("target", target))
			return output, true, nil
		}
	}

	s.logger.Info("retrieving fdb table", slog.String("target", target))

	var output string
	err := s.withConn(ctx, target, func(conn Conn) error {
		var err error
		output, err = s.runCommand(ctx, conn, fdbCommand)
		return err
	})
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	s.cache[target] = cacheEntry{output: output, fetchedAt: s.now()}
	s.mu.Unlock()

	metrics.FDBCacheRefreshesTotal.Inc()
	return output, false, nil
}

func (s *Searcher) cachedOutput(target string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[target]
	if !ok || s.now().Sub(entry.fetchedAt) >= s.cacheTTL {
		return "", false
	}
	return entry.output, true
}

// Cached reports whether an unexpired FDB snapshot exists for target and
// when it was fetched. The menu uses it to offer a refresh before searching.
func (s *Searcher) Cached(target string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[target]
	if !ok || s.now().Sub(entry.fetchedAt) >= s.cacheTTL {
		return time.Time{}, false
	}
	return entry.fetchedAt, true
}

// fetchPortDetails fills in the three detail outputs for a match.
func (s *Searcher) fetchPortDetails(ctx context.Context, target string, match *Match) error {
	return s.withConn(ctx, target, func(conn Conn) error {
		var err error
		if match.PortInfo, err = s.runCommand(ctx, conn, "show ports "+match.Port+" information"); err != nil {
			return err
		}
		if match.Neighbors, err = s.runCommand(ctx, conn, "show lldp neighbors"); err != nil {
			return err
		}
		match.PortDescription, err = s.runCommand(ctx, conn, "show ports "+match.Port+" description")
		return err
	})
}

// withConn runs fn with an acquired connection to target, releasing it when
// fn returns.
func (s *Searcher) withConn(ctx context.Context, target string, fn func(Conn) error) error {
	conn, err := s.provider.Acquire(ctx, target)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer s.provider.Release(target)

	return fn(conn)
}

func (s *Searcher) runCommand(ctx context.Context, conn Conn, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := conn.Run(ctx, command)
	if err != nil {
		return "", fmt.Errorf("running %q: %w", command, err)
	}
	return res.Stdout, nil
}

// lastMatchingLine returns the last forwarding-table line containing the
// normalized MAC. Lines are normalized the same way as the address so any
// separator notation matches.
func lastMatchingLine(output, norm string) string {
	var match string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(NormalizeMAC(line), norm) {
			match = line
		}
	}
	return match
}
