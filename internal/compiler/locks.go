package compiler

import (
	"context"
	"sync"
)

type loadStackKey struct{}

// loadStack returns the paths whose compile is in progress on this chain,
// outermost first.
func loadStack(ctx context.Context) []string {
	s, _ := ctx.Value(loadStackKey{}).([]string)
	return s
}

// enterLoad pushes p onto the chain's load stack, failing when p is already
// being compiled further up the chain.
func enterLoad(ctx context.Context, p string) (context.Context, error) {
	stack := loadStack(ctx)
	if i := indexOf(stack, p); i >= 0 {
		return ctx, &CyclicDependencyError{Cycle: append(append([]string(nil), stack[i:]...), p)}
	}
	next := make([]string, len(stack), len(stack)+1)
	copy(next, stack)
	return context.WithValue(ctx, loadStackKey{}, append(next, p)), nil
}

// pathLocks serializes compiles of the same path.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]chan struct{})}
}

// lock acquires the lock for p, giving up when ctx ends.
func (l *pathLocks) lock(ctx context.Context, p string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[p]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[p] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
