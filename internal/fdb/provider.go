package fdb

import (
	"context"

	"github.com/Payhn/CustomTools/pkg/sshutil"
)

// Conn is the command surface the searcher needs from an acquired connection.
type Conn interface {
	Run(ctx context.Context, command string) (*sshutil.CommandResult, error)
}

// ConnectionProvider hands out live connections keyed by target. The pool
// satisfies this through PoolProvider; tests substitute fakes.
type ConnectionProvider interface {
	// Acquire returns a live connection to target, dialing if necessary.
	Acquire(ctx context.Context, target string) (Conn, error)

	// Release returns a previously acquired connection to the provider.
	Release(target string)
}

// PoolProvider adapts a connection pool to the ConnectionProvider interface.
type PoolProvider struct {
	Pool *sshutil.Pool
}

// Acquire dials or reuses the pooled connection for target.
func (p *PoolProvider) Acquire(ctx context.Context, target string) (Conn, error) {
	conn, err := p.Pool.Acquire(ctx, target)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Release returns the pooled connection for target.
func (p *PoolProvider) Release(target string) {
	p.Pool.Release(target)
}
