package idempotency

import (
	"context"
	"errors"
	"sync"
)

// ErrInProgress is returned when another request holding the same key has
// not finished yet.
var ErrInProgress = errors.New("idempotency key in progress")

// Guard serializes requests that share an idempotency key. The durable
// replay record lives in the ledger store; a guard only keeps two
// concurrent duplicates from racing into the same transaction.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

type NoopGuard struct{}

func (NoopGuard) Acquire(_ context.Context, _ string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// LocalGuard is an in-process guard for single-instance deployments.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.held[key]; busy {
		return nil, ErrInProgress
	}
	g.held[key] = struct{}{}
	return func(context.Context) error {
		g.mu.Lock()
		delete(g.held, key)
		g.mu.Unlock()
		return nil
	}, nil
}
