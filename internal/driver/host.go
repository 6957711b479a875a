package driver

import (
	"context"
	"sync"

	"mudcore/internal/mxc"
	"mudcore/internal/object"
	"mudcore/internal/storage"
)

// host implements api.Host for one verb call.
type host struct {
	d   *Driver
	obj *object.Object

	mu  sync.Mutex
	ctx context.Context
}

func (h *host) context() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctx
}

func (h *host) swap(ctx context.Context) context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.ctx
	h.ctx = ctx
	return prev
}

func (h *host) Object() string { return string(h.obj.ID()) }

func (h *host) Get(key string) (any, bool) { return h.obj.Record().Get(key) }

func (h *host) Set(key string, value any) error { return h.obj.Record().Set(key, value) }

func (h *host) ThisPlayer() string  { return mxc.ThisPlayer(h.context()) }
func (h *host) TruePlayer() string  { return mxc.TruePlayer(h.context()) }
func (h *host) CurrentVerb() string { return mxc.CurrentVerb(h.context()) }

func (h *host) PreviousObject(n int) string {
	if s := mxc.From(h.context()); s != nil {
		return s.PreviousObject(n)
	}
	return ""
}

func (h *host) Invoke(target, verb string, args ...any) (any, error) {
	return h.d.invoke(h.context(), "", storage.ID(target), verb, args)
}

func (h *host) Force(player, target, verb string, args ...any) (any, error) {
	return h.d.Force(h.context(), player, storage.ID(target), verb, args...)
}

func (h *host) Privileged() bool { return h.d.Privileged(h.context()) }

func (h *host) Emit(event string, args ...any) int { return h.obj.Record().Emit(event, args...) }

// Await runs fn as a continuation. While it runs, calls made through this
// host use the continuation's restored stack.
func (h *host) Await(fn func() (any, error)) (any, error) {
	var out any
	err := mxc.Await(h.context(), func(ctx context.Context) error {
		prev := h.swap(ctx)
		defer h.swap(prev)
		var err error
		out, err = fn()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
