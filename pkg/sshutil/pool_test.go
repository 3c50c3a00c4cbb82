package sshutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory transport that counts handshakes, so tests
// can prove when the pool reuses a connection instead of redialing.
type fakeTransport struct {
	mu        sync.Mutex
	dials     int
	closes    int
	connected bool

	// dialErrs is consumed one entry per Connect call; a nil entry means
	// that attempt succeeds. When exhausted, dialErr applies.
	dialErrs []error
	dialErr  error
	pingErr  error
	runOut   string
	runErr   error
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dials++

	if len(f.dialErrs) > 0 {
		err := f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
		if err != nil {
			return err
		}
		f.connected = true
		return nil
	}

	if f.dialErr != nil {
		return f.dialErr
	}

	f.connected = true
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return ErrNotConnected
	}
	return f.pingErr
}

func (f *fakeTransport) Run(ctx context.Context, command string) (*CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return nil, ErrNotConnected
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &CommandResult{Stdout: f.runOut}, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connected = false
	f.closes++
	return nil
}

// handshakes reports how many times Connect was called.
func (f *fakeTransport) handshakes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// newTestPool builds a pool backed by fake transports. Fakes are created on
// demand, one per target, and can be pre-seeded to inject failures.
func newTestPool(t *testing.T, opts ...PoolOption) (*Pool, map[string]*fakeTransport) {
	t.Helper()

	base := &Config{
		User:     "admin",
		Password: "secret",
	}

	pool, err := NewPool(base, opts...)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	fakes := make(map[string]*fakeTransport)
	pool.newTransport = func(cfg *Config) (transport, error) {
		if f, ok := fakes[cfg.Host]; ok {
			return f, nil
		}
		f := &fakeTransport{}
		fakes[cfg.Host] = f
		return f, nil
	}

	return pool, fakes
}

func TestNewPool(t *testing.T) {
	t.Run("valid base config", func(t *testing.T) {
		pool, err := NewPool(&Config{User: "admin", Password: "secret"})
		if err != nil {
			t.Fatalf("NewPool() error = %v", err)
		}
		if pool == nil {
			t.Fatal("NewPool() returned nil pool")
		}
	})

	t.Run("nil base config", func(t *testing.T) {
		_, err := NewPool(nil)
		if err == nil {
			t.Fatal("NewPool() expected error for nil base config")
		}
	})

	t.Run("invalid base config", func(t *testing.T) {
		_, err := NewPool(&Config{Password: "secret"})
		if err == nil {
			t.Fatal("NewPool() expected error for missing user")
		}
		if !contains(err.Error(), "invalid base config") {
			t.Errorf("NewPool() error = %v, want error containing 'invalid base config'", err)
		}
	})

	t.Run("with logger option", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
		pool, err := NewPool(&Config{User: "admin", Password: "secret"}, WithPoolLogger(logger))
		if err != nil {
			t.Fatalf("NewPool() error = %v", err)
		}
		if pool.logger != logger {
			t.Error("WithPoolLogger() option not applied")
		}
	})
}

func TestPool_AcquireReuse(t *testing.T) {
	pool, fakes := newTestPool(t)
	ctx := t.Context()

	first, err := pool.Acquire(ctx, "10.10.1.1")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	second, err := pool.Acquire(ctx, "10.10.1.1")
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}

	if first != second {
		t.Error("Acquire() returned different slots for the same target")
	}

	if got := fakes["10.10.1.1"].handshakes(); got != 1 {
		t.Errorf("handshake count = %d, want 1 (live connection must be reused)", got)
	}

	if got := first.State(); got != StateConnected {
		t.Errorf("State() = %v, want %v", got, StateConnected)
	}

	stats := pool.Stats()
	if stats.Dials != 1 {
		t.Errorf("Stats().Dials = %d, want 1", stats.Dials)
	}
	if stats.Reuses != 1 {
		t.Errorf("Stats().Reuses = %d, want 1", stats.Reuses)
	}
}

func TestPool_AcquireTrimsTarget(t *testing.T) {
	pool, fakes := newTestPool(t)
	ctx := t.Context()

	if _, err := pool.Acquire(ctx, "  10.10.1.1  "); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := pool.Acquire(ctx, "10.10.1.1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if len(fakes) != 1 {
		t.Errorf("pool created %d transports, want 1 (whitespace should be trimmed)", len(fakes))
	}
}

func TestPool_AcquireEmptyTarget(t *testing.T) {
	pool, _ := newTestPool(t)

	for _, target := range []string{"", "   "} {
		_, err := pool.Acquire(t.Context(), target)
		if !errors.Is(err, ErrConnectFailed) {
			t.Errorf("Acquire(%q) error = %v, want %v", target, err, ErrConnectFailed)
		}
	}

	if got := len(pool.Snapshot()); got != 0 {
		t.Errorf("Snapshot() has %d entries after empty-target Acquire, want 0", got)
	}
}

func TestPool_AcquireProbeFailure(t *testing.T) {
	pool, fakes := newTestPool(t)
	ctx := t.Context()

	if _, err := pool.Acquire(ctx, "10.10.1.1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Kill the connection behind the pool's back. The next Acquire must
	// notice via the probe and redial instead of handing out the corpse.
	f := fakes["10.10.1.1"]
	f.pingErr = errors.New("broken pipe")

	pc, err := pool.Acquire(ctx, "10.10.1.1")
	if err != nil {
		t.Fatalf("Acquire() after probe failure error = %v", err)
	}

	if got := f.handshakes(); got != 2 {
		t.Errorf("handshake count = %d, want 2 (stale connection must be redialed)", got)
	}
	if got := f.closeCount(); got != 1 {
		t.Errorf("close count = %d, want 1 (stale connection must be torn down)", got)
	}
	if got := pc.State(); got != StateConnected {
		t.Errorf("State() = %v, want %v", got, StateConnected)
	}

	stats := pool.Stats()
	if stats.ProbeFailures != 1 {
		t.Errorf("Stats().ProbeFailures = %d, want 1", stats.ProbeFailures)
	}
	if stats.Dials != 2 {
		t.Errorf("Stats().Dials = %d, want 2", stats.Dials)
	}
}

func TestPool_AcquireFailedRetained(t *testing.T) {
	pool, fakes := newTestPool(t)
	ctx := t.Context()

	// First attempt fails, second succeeds.
	fakes["10.10.1.9"] = &fakeTransport{
		dialErrs: []error{errors.New("connection refused"), nil},
	}

	_, err := pool.Acquire(ctx, "10.10.1.9")
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Acquire() error = %v, want %v", err, ErrConnectFailed)
	}

	// The failed slot stays visible for diagnostics and retry.
	snapshot := pool.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("Snapshot() has %d entries, want 1", len(snapshot))
	}
	if snapshot[0].State != StateFailed {
		t.Errorf("Snapshot()[0].State = %v, want %v", snapshot[0].State, StateFailed)
	}
	if !contains(snapshot[0].LastError, "connection refused") {
		t.Errorf("Snapshot()[0].LastError = %q, want error containing 'connection refused'", snapshot[0].LastError)
	}
	if got := pool.ActiveTargets(); len(got) != 0 {
		t.Errorf("ActiveTargets() = %v, want empty", got)
	}

	// Retrying the same target succeeds without recreating the slot.
	pc, err := pool.Acquire(ctx, "10.10.1.9")
	if err != nil {
		t.Fatalf("retry Acquire() error = %v", err)
	}
	if got := pc.State(); got != StateConnected {
		t.Errorf("State() = %v, want %v", got, StateConnected)
	}
	if pc.LastErr() != nil {
		t.Errorf("LastErr() = %v, want nil after successful retry", pc.LastErr())
	}

	stats := pool.Stats()
	if stats.Dials != 2 {
		t.Errorf("Stats().Dials = %d, want 2", stats.Dials)
	}
	if stats.DialFailures != 1 {
		t.Errorf("Stats().DialFailures = %d, want 1", stats.DialFailures)
	}
}

func TestPool_AcquireFactoryError(t *testing.T) {
	pool, _ := newTestPool(t)
	pool.newTransport = func(cfg *Config) (transport, error) {
		return nil, errors.New("bad key material")
	}

	_, err := pool.Acquire(t.Context(), "10.10.1.1")
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Acquire() error = %v, want %v", err, ErrConnectFailed)
	}

	snapshot := pool.Snapshot()
	if len(snapshot) != 1 || snapshot[0].State != StateFailed {
		t.Errorf("Snapshot() = %+v, want one failed slot", snapshot)
	}
}

func TestPool_Release(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := t.Context()

	if _, err := pool.Acquire(ctx, "10.10.1.1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if got := pool.Snapshot()[0].InUse; got != 1 {
		t.Errorf("InUse = %d after Acquire, want 1", got)
	}

	pool.Release("10.10.1.1")
	if got := pool.Snapshot()[0].InUse; got != 0 {
		t.Errorf("InUse = %d after Release, want 0", got)
	}

	// Extra releases and unknown targets are no-ops.
	pool.Release("10.10.1.1")
	if got := pool.Snapshot()[0].InUse; got != 0 {
		t.Errorf("InUse = %d after double Release, want 0", got)
	}
	pool.Release("never-acquired")

	// The connection itself stays open for the next Acquire.
	if got := pool.ActiveTargets(); len(got) != 1 {
		t.Errorf("ActiveTargets() = %v, want one target after Release", got)
	}
}

func TestPool_Close(t *testing.T) {
	pool, fakes := newTestPool(t)
	ctx := t.Context()

	t.Run("closes and removes the slot", func(t *testing.T) {
		if _, err := pool.Acquire(ctx, "10.10.1.1"); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}

		if err := pool.Close("10.10.1.1"); err != nil {
			t.Errorf("Close() error = %v, want nil", err)
		}
		if got := fakes["10.10.1.1"].closeCount(); got != 1 {
			t.Errorf("close count = %d, want 1", got)
		}
		if got := len(pool.Snapshot()); got != 0 {
			t.Errorf("Snapshot() has %d entries after Close, want 0", got)
		}
	})

	t.Run("unknown target is a no-op", func(t *testing.T) {
		if err := pool.Close("10.10.9.9"); err != nil {
			t.Errorf("Close() error = %v, want nil for unknown target", err)
		}
	})

	t.Run("closed target can be dialed again", func(t *testing.T) {
		if _, err := pool.Acquire(ctx, "10.10.1.1"); err != nil {
			t.Fatalf("Acquire() after Close error = %v", err)
		}
		if got := fakes["10.10.1.1"].handshakes(); got != 2 {
			t.Errorf("handshake count = %d, want 2 (fresh dial after Close)", got)
		}
	})

	t.Run("failed slot closes cleanly", func(t *testing.T) {
		fakes["10.10.1.9"] = &fakeTransport{dialErr: errors.New("connection refused")}

		if _, err := pool.Acquire(ctx, "10.10.1.9"); err == nil {
			t.Fatal("Acquire() expected error for failing target")
		}
		if err := pool.Close("10.10.1.9"); err != nil {
			t.Errorf("Close() error = %v, want nil for failed slot", err)
		}
	})
}

func TestPool_CloseAll(t *testing.T) {
	pool, fakes := newTestPool(t)
	ctx := t.Context()

	for _, target := range []string{"10.10.1.1", "10.10.1.2", "10.10.1.3"} {
		if _, err := pool.Acquire(ctx, target); err != nil {
			t.Fatalf("Acquire(%s) error = %v", target, err)
		}
	}

	if err := pool.CloseAll(); err != nil {
		t.Errorf("CloseAll() error = %v, want nil", err)
	}

	for target, f := range fakes {
		if got := f.closeCount(); got != 1 {
			t.Errorf("close count for %s = %d, want 1", target, got)
		}
	}

	if got := len(pool.Snapshot()); got != 0 {
		t.Errorf("Snapshot() has %d entries after CloseAll, want 0", got)
	}
	if got := pool.ActiveTargets(); len(got) != 0 {
		t.Errorf("ActiveTargets() = %v, want empty after CloseAll", got)
	}

	// Draining an empty pool is fine.
	if err := pool.CloseAll(); err != nil {
		t.Errorf("CloseAll() on empty pool error = %v, want nil", err)
	}
}

func TestPool_ActiveTargets(t *testing.T) {
	pool, fakes := newTestPool(t)
	ctx := t.Context()

	fakes["10.10.1.2"] = &fakeTransport{dialErr: errors.New("no route to host")}

	if _, err := pool.Acquire(ctx, "10.10.1.3"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := pool.Acquire(ctx, "10.10.1.2"); err == nil {
		t.Fatal("Acquire() expected error for failing target")
	}
	if _, err := pool.Acquire(ctx, "10.10.1.1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Connected targets only, in the order they were first acquired.
	want := []string{"10.10.1.3", "10.10.1.1"}
	got := pool.ActiveTargets()
	if len(got) != len(want) {
		t.Fatalf("ActiveTargets() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ActiveTargets()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// Snapshot includes the failed slot.
	snapshot := pool.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("Snapshot() has %d entries, want 3", len(snapshot))
	}
	if snapshot[1].Target != "10.10.1.2" || snapshot[1].State != StateFailed {
		t.Errorf("Snapshot()[1] = %+v, want failed slot for 10.10.1.2", snapshot[1])
	}
}

// stallingTransport parks Connect until released, standing in for a slow
// dial.
type stallingTransport struct {
	fakeTransport
	started chan struct{}
	release chan struct{}
}

func (s *stallingTransport) Connect(ctx context.Context) error {
	close(s.started)
	<-s.release
	return s.fakeTransport.Connect(ctx)
}

func TestPool_ReadersDoNotWaitOnDial(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := t.Context()

	if _, err := pool.Acquire(ctx, "10.10.1.1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	stall := &stallingTransport{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	inner := pool.newTransport
	pool.newTransport = func(cfg *Config) (transport, error) {
		if cfg.Host == "10.10.1.2" {
			return stall, nil
		}
		return inner(cfg)
	}

	dialDone := make(chan struct{})
	go func() {
		defer close(dialDone)
		if _, err := pool.Acquire(ctx, "10.10.1.2"); err == nil {
			pool.Release("10.10.1.2")
		}
	}()
	<-stall.started

	// The listing and the snapshot must return while the dial is parked.
	targets := make(chan []string, 1)
	go func() { targets <- pool.ActiveTargets() }()
	select {
	case got := <-targets:
		if len(got) != 1 || got[0] != "10.10.1.1" {
			t.Errorf("ActiveTargets() = %v, want [10.10.1.1]", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ActiveTargets() blocked behind an in-flight dial")
	}

	snaps := make(chan []ConnInfo, 1)
	go func() { snaps <- pool.Snapshot() }()
	select {
	case got := <-snaps:
		if len(got) != 2 {
			t.Fatalf("Snapshot() has %d entries, want 2", len(got))
		}
		if got[1].Target != "10.10.1.2" || got[1].State != StateConnecting {
			t.Errorf("Snapshot()[1] = %+v, want connecting slot for 10.10.1.2", got[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Snapshot() blocked behind an in-flight dial")
	}

	close(stall.release)
	<-dialDone
}

func TestPool_DialBackoff(t *testing.T) {
	t.Run("transient failure is retried", func(t *testing.T) {
		pool, fakes := newTestPool(t, WithDialBackoff(5*time.Second))
		fakes["10.10.1.1"] = &fakeTransport{
			dialErrs: []error{errors.New("connection refused"), nil},
		}

		pc, err := pool.Acquire(t.Context(), "10.10.1.1")
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if got := pc.State(); got != StateConnected {
			t.Errorf("State() = %v, want %v", got, StateConnected)
		}
		if got := fakes["10.10.1.1"].handshakes(); got != 2 {
			t.Errorf("handshake count = %d, want 2 (one retry)", got)
		}
	})

	t.Run("authentication failure is not retried", func(t *testing.T) {
		pool, fakes := newTestPool(t, WithDialBackoff(5*time.Second))
		fakes["10.10.1.1"] = &fakeTransport{
			dialErr: fmt.Errorf("%w: wrong password", ErrAuthenticationFailed),
		}

		_, err := pool.Acquire(t.Context(), "10.10.1.1")
		if !errors.Is(err, ErrConnectFailed) {
			t.Fatalf("Acquire() error = %v, want %v", err, ErrConnectFailed)
		}
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("Acquire() error = %v, want wrapped %v", err, ErrAuthenticationFailed)
		}
		if got := fakes["10.10.1.1"].handshakes(); got != 1 {
			t.Errorf("handshake count = %d, want 1 (auth failures must not be retried)", got)
		}
	})
}

func TestPool_CircuitBreaker(t *testing.T) {
	pool, fakes := newTestPool(t, WithCircuitBreaker())
	ctx := t.Context()

	fakes["10.10.1.1"] = &fakeTransport{dialErr: errors.New("connection refused")}

	// Three consecutive failures trip the breaker.
	for i := 0; i < 3; i++ {
		if _, err := pool.Acquire(ctx, "10.10.1.1"); !errors.Is(err, ErrConnectFailed) {
			t.Fatalf("Acquire() #%d error = %v, want %v", i+1, err, ErrConnectFailed)
		}
	}
	if got := fakes["10.10.1.1"].handshakes(); got != 3 {
		t.Fatalf("handshake count = %d, want 3", got)
	}

	// The open breaker fails fast without touching the device.
	if _, err := pool.Acquire(ctx, "10.10.1.1"); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Acquire() with open breaker error = %v, want %v", err, ErrConnectFailed)
	}
	if got := fakes["10.10.1.1"].handshakes(); got != 3 {
		t.Errorf("handshake count = %d, want 3 (open breaker must skip the dial)", got)
	}
}

func TestPooledConn_Run(t *testing.T) {
	pool, fakes := newTestPool(t)
	ctx := t.Context()

	pc, err := pool.Acquire(ctx, "10.10.1.1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	fakes["10.10.1.1"].runOut = "FDB table has 42 entries"

	result, err := pc.Run(ctx, "show fdb")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Stdout != "FDB table has 42 entries" {
		t.Errorf("Run() Stdout = %q, want %q", result.Stdout, "FDB table has 42 entries")
	}

	// A closed slot refuses to run commands.
	if err := pool.Close("10.10.1.1"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := pc.Run(ctx, "show fdb"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Run() on closed slot error = %v, want %v", err, ErrNotConnected)
	}
}

func TestPooledConn_Client(t *testing.T) {
	pool, _ := newTestPool(t)

	pc, err := pool.Acquire(t.Context(), "10.10.1.1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Fake transports are not *Client.
	if got := pc.Client(); got != nil {
		t.Errorf("Client() = %v, want nil for non-SSH transport", got)
	}

	if got := pc.Target(); got != "10.10.1.1" {
		t.Errorf("Target() = %v, want %v", got, "10.10.1.1")
	}
}

func TestConnState_String(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateFailed, "failed"},
		{StateClosed, "closed"},
		{ConnState(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}
