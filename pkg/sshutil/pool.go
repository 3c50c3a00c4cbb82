package sshutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// ErrConnectFailed is returned by Pool.Acquire when a connection could not
// be established. The failed entry stays in the pool so a later Acquire can
// retry the same target.
var ErrConnectFailed = errors.New("ssh connect failed")

// ConnState describes the lifecycle state of a pooled connection.
type ConnState int

// Connection lifecycle states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// transport is the connection surface the pool manages. *Client implements
// it; tests substitute fakes that count handshakes.
type transport interface {
	Connect(ctx context.Context) error
	Ping() error
	Run(ctx context.Context, command string) (*CommandResult, error)
	Close() error
}

// PooledConn is one pool slot: at most one exists per target inside a Pool.
// It is handed out by reference from Acquire and must not be copied.
type PooledConn struct {
	target string

	// mu serializes dials and teardown; it stays held for the full duration
	// of a connect. Observable fields live under stateMu so pool-wide
	// readers never wait behind an in-flight dial.
	mu sync.Mutex

	stateMu sync.Mutex
	state   ConnState
	lastErr error
	tr      transport
	inUse   int

	// breaker guards dial attempts to this target when the pool was built
	// with WithCircuitBreaker.
	breaker *gobreaker.CircuitBreaker
}

// Target returns the device identifier this slot belongs to.
func (pc *PooledConn) Target() string {
	return pc.target
}

// State returns the current lifecycle state.
func (pc *PooledConn) State() ConnState {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.state
}

// LastErr returns the most recent connect error, or nil.
func (pc *PooledConn) LastErr() error {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.lastErr
}

// snapshot reads the observable fields in one critical section.
func (pc *PooledConn) snapshot() ConnInfo {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()

	info := ConnInfo{
		Target: pc.target,
		State:  pc.state,
		InUse:  pc.inUse,
	}
	if pc.lastErr != nil {
		info.LastError = pc.lastErr.Error()
	}
	return info
}

// Run executes a command over the pooled connection.
// Returns ErrNotConnected if the slot is not in the Connected state.
func (pc *PooledConn) Run(ctx context.Context, command string) (*CommandResult, error) {
	pc.stateMu.Lock()
	tr := pc.tr
	state := pc.state
	pc.stateMu.Unlock()

	if state != StateConnected || tr == nil {
		return nil, ErrNotConnected
	}

	// Sessions multiplex over one transport, so Run does not hold the slot
	// lock while the command executes.
	return tr.Run(ctx, command)
}

// Client returns the underlying *Client, or nil if the slot does not wrap a
// real SSH client. Used by tools that need more than command execution, such
// as SFTP transfers.
func (pc *PooledConn) Client() *Client {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()

	if c, ok := pc.tr.(*Client); ok {
		return c
	}
	return nil
}

// ConnInfo is a point-in-time view of one pool slot.
type ConnInfo struct {
	Target    string
	State     ConnState
	InUse     int
	LastError string
}

// PoolStats reports cumulative pool activity since creation.
type PoolStats struct {
	Dials         uint64
	DialFailures  uint64
	Reuses        uint64
	ProbeFailures uint64
}

// Pool is a single-slot-per-target SSH connection pool shared by all tools
// in a process. Connections are kept open across calls and reused after a
// successful liveness probe; failed slots are kept so a later Acquire can
// retry the target.
//
// All methods are safe for concurrent use.
type Pool struct {
	base   *Config
	logger *slog.Logger

	// newTransport builds the transport for one target. Tests replace it.
	newTransport func(cfg *Config) (transport, error)

	// dialMaxElapsed caps exponential-backoff retries on dial; 0 means a
	// single attempt.
	dialMaxElapsed time.Duration
	useBreaker     bool

	mu    sync.Mutex
	conns map[string]*PooledConn
	order []string

	statsMu sync.Mutex
	stats   PoolStats
}

// PoolOption is a functional option for configuring the Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets a custom logger for the pool.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDialBackoff enables exponential-backoff retries on dial failures,
// giving up once maxElapsed has passed. Authentication failures are never
// retried.
func WithDialBackoff(maxElapsed time.Duration) PoolOption {
	return func(p *Pool) {
		p.dialMaxElapsed = maxElapsed
	}
}

// WithCircuitBreaker adds a per-target circuit breaker around dial attempts,
// so a device that keeps refusing connections is skipped quickly for a
// cool-down period instead of holding up every run.
func WithCircuitBreaker() PoolOption {
	return func(p *Pool) {
		p.useBreaker = true
	}
}

// NewPool creates a connection pool from a base config. The base config
// carries credentials and transport settings; the host is supplied per
// target at Acquire time.
func NewPool(base *Config, opts ...PoolOption) (*Pool, error) {
	if base == nil {
		return nil, errors.New("base config is required")
	}

	if err := base.ValidateBase(); err != nil {
		return nil, fmt.Errorf("invalid base config: %w", err)
	}

	p := &Pool{
		base:   base,
		logger: slog.Default(),
		conns:  make(map[string]*PooledConn),
	}
	p.newTransport = p.defaultTransport

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// defaultTransport builds a real SSH client for one target.
func (p *Pool) defaultTransport(cfg *Config) (transport, error) {
	return NewClient(cfg, WithLogger(p.logger))
}

// Acquire returns the live connection for target, establishing one if
// needed. An existing connection is reused only after it passes a liveness
// probe; a stale connection is torn down and redialed. On failure the slot
// is marked Failed, kept for later retry, and an error wrapping
// ErrConnectFailed is returned.
func (p *Pool) Acquire(ctx context.Context, target string) (*PooledConn, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: target is empty", ErrConnectFailed)
	}

	p.mu.Lock()
	pc, ok := p.conns[target]
	if !ok {
		pc = &PooledConn{target: target, state: StateDisconnected}
		if p.useBreaker {
			pc.breaker = newDialBreaker(target)
		}
		p.conns[target] = pc
		p.order = append(p.order, target)
	}
	p.mu.Unlock()

	// The slot lock serializes dials per target without blocking the rest
	// of the pool. Lock order is always pool, then slot, then state.
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.stateMu.Lock()
	state, tr := pc.state, pc.tr
	pc.stateMu.Unlock()

	if state == StateConnected && tr != nil {
		err := tr.Ping()
		if err == nil {
			pc.stateMu.Lock()
			pc.inUse++
			pc.stateMu.Unlock()
			p.bumpStats(func(s *PoolStats) { s.Reuses++ })
			p.logger.Debug("reusing pooled connection",
				slog.String("target", target),
			)
			return pc, nil
		}

		p.bumpStats(func(s *PoolStats) { s.ProbeFailures++ })
		p.logger.Warn("pooled connection failed liveness probe, reconnecting",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		_ = tr.Close()
		pc.setState(StateDisconnected, nil)
	}

	if tr == nil {
		var err error
		tr, err = p.newTransport(p.base.WithHost(target))
		if err != nil {
			pc.setState(StateFailed, err)
			return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, target, err)
		}
		pc.stateMu.Lock()
		pc.tr = tr
		pc.stateMu.Unlock()
	}

	pc.setState(StateConnecting, nil)
	p.bumpStats(func(s *PoolStats) { s.Dials++ })

	if err := p.dial(ctx, pc, tr); err != nil {
		pc.setState(StateFailed, err)
		p.bumpStats(func(s *PoolStats) { s.DialFailures++ })
		// The slot stays in the pool so a later Acquire can retry.
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, target, err)
	}

	pc.stateMu.Lock()
	pc.state = StateConnected
	pc.lastErr = nil
	pc.inUse++
	pc.stateMu.Unlock()

	return pc, nil
}

// setState records a lifecycle transition, keeping the previous error unless
// a new one is supplied.
func (pc *PooledConn) setState(state ConnState, err error) {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	pc.state = state
	if err != nil {
		pc.lastErr = err
	}
}

// dial connects the slot's transport, applying the pool's retry and breaker
// policy. Called with pc.mu held; the transport is passed in so no state
// lock is needed while the dial is in flight.
func (p *Pool) dial(ctx context.Context, pc *PooledConn, tr transport) error {
	dialOnce := func() error {
		if p.dialMaxElapsed <= 0 {
			return tr.Connect(ctx)
		}

		op := func() error {
			err := tr.Connect(ctx)
			if err != nil && errors.Is(err, ErrAuthenticationFailed) {
				// Retrying a rejected credential risks locking the account.
				return backoff.Permanent(err)
			}
			return err
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		b.MaxElapsedTime = p.dialMaxElapsed

		return backoff.Retry(op, backoff.WithContext(b, ctx))
	}

	if pc.breaker == nil {
		return dialOnce()
	}

	_, err := pc.breaker.Execute(func() (any, error) {
		return nil, dialOnce()
	})
	return err
}

// newDialBreaker builds the per-target breaker used by WithCircuitBreaker.
func newDialBreaker(target string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ssh-dial-" + target,
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// Release marks one use of the target's connection as finished. The
// transport stays open for reuse; only bookkeeping changes.
func (p *Pool) Release(target string) {
	p.mu.Lock()
	pc, ok := p.conns[target]
	p.mu.Unlock()

	if !ok {
		return
	}

	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	if pc.inUse > 0 {
		pc.inUse--
	}
}

// Close tears down the connection for one target and removes its slot.
// Safe to call for targets that never connected or are unknown.
func (p *Pool) Close(target string) error {
	p.mu.Lock()
	pc, ok := p.conns[target]
	if ok {
		delete(p.conns, target)
		for i, t := range p.order {
			if t == target {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}

	// Waits out an in-flight dial so the transport is not closed under it.
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.stateMu.Lock()
	pc.state = StateClosed
	tr := pc.tr
	pc.tr = nil
	pc.stateMu.Unlock()

	if tr == nil {
		return nil
	}

	if err := tr.Close(); err != nil {
		return fmt.Errorf("closing connection to %s: %w", target, err)
	}

	p.logger.Debug("pooled connection closed",
		slog.String("target", target),
	)

	return nil
}

// CloseAll tears down every pooled connection and empties the pool.
// All slots are closed even if some closes fail; the errors are joined.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	entries := make([]*PooledConn, 0, len(p.conns))
	for _, t := range p.order {
		if pc, ok := p.conns[t]; ok {
			entries = append(entries, pc)
		}
	}
	p.conns = make(map[string]*PooledConn)
	p.order = nil
	p.mu.Unlock()

	var errs []error
	for _, pc := range entries {
		pc.mu.Lock()
		pc.stateMu.Lock()
		pc.state = StateClosed
		tr := pc.tr
		pc.tr = nil
		pc.stateMu.Unlock()
		pc.mu.Unlock()

		if tr == nil {
			continue
		}

		if err := tr.Close(); err != nil {
			p.logger.Warn("closing pooled connection",
				slog.String("target", pc.target),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", pc.target, err))
		}
	}

	if len(entries) > 0 {
		p.logger.Info("connection pool drained",
			slog.Int("connections", len(entries)),
		)
	}

	return errors.Join(errs...)
}

// slots copies the slot pointers in insertion order. Per-slot state is read
// after the pool lock is released, so a slot blocked in a dial does not stall
// readers of the rest of the pool.
func (p *Pool) slots() []*PooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*PooledConn, 0, len(p.order))
	for _, t := range p.order {
		if pc, ok := p.conns[t]; ok {
			out = append(out, pc)
		}
	}
	return out
}

// ActiveTargets returns the targets with a Connected slot, in insertion
// order. No liveness probe is performed.
func (p *Pool) ActiveTargets() []string {
	entries := p.slots()
	targets := make([]string, 0, len(entries))
	for _, pc := range entries {
		if pc.State() == StateConnected {
			targets = append(targets, pc.target)
		}
	}
	return targets
}

// Snapshot returns a point-in-time view of every pool slot, in insertion
// order, including failed and never-connected slots.
func (p *Pool) Snapshot() []ConnInfo {
	entries := p.slots()
	infos := make([]ConnInfo, 0, len(entries))
	for _, pc := range entries {
		infos = append(infos, pc.snapshot())
	}
	return infos
}

// Stats returns cumulative pool counters.
func (p *Pool) Stats() PoolStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Pool) bumpStats(fn func(*PoolStats)) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	fn(&p.stats)
}
