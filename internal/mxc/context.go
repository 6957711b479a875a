package mxc

import (
	"context"
	"fmt"
)

type ctxKey struct{}

// With returns a context carrying s as the chain's execution context.
func With(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From returns the stack carried by ctx, or nil.
func From(ctx context.Context) *Stack {
	s, _ := ctx.Value(ctxKey{}).(*Stack)
	return s
}

// Ensure returns ctx and its stack, attaching a new stack when ctx has none.
func Ensure(ctx context.Context) (context.Context, *Stack) {
	if s := From(ctx); s != nil {
		return ctx, s
	}
	s := New()
	return With(ctx, s), s
}

// ThisPlayer returns the acting identity of the chain carried by ctx.
func ThisPlayer(ctx context.Context) string {
	if s := From(ctx); s != nil {
		return s.ThisPlayer()
	}
	return ""
}

// TruePlayer returns the initiating identity of the chain carried by ctx.
func TruePlayer(ctx context.Context) string {
	if s := From(ctx); s != nil {
		return s.TruePlayer()
	}
	return ""
}

// CurrentVerb returns the verb executing in the chain carried by ctx.
func CurrentVerb(ctx context.Context) string {
	if s := From(ctx); s != nil {
		return s.CurrentVerb()
	}
	return ""
}

// Go runs fn as the continuation of the chain carried by ctx on a new
// goroutine. The chain is joined before fn starts; fn sees a fresh stack
// with the snapshot restored, which is released when fn returns. The
// returned channel yields fn's error, or the imbalance that prevented or
// followed it.
func Go(ctx context.Context, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	var snap *Snapshot
	if src := From(ctx); src != nil {
		snap = src.Join()
	}
	go func() {
		s := New()
		if snap != nil {
			if err := s.Restore(snap); err != nil {
				done <- err
				return
			}
		}
		err := run(With(ctx, s), fn)
		if snap != nil {
			if rerr := s.Release(snap); rerr != nil && err == nil {
				err = rerr
			}
		}
		done <- err
	}()
	return done
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("continuation panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Await runs fn through Go and waits for it or for ctx to end.
func Await(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case err := <-Go(ctx, fn):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
