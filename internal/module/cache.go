package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"mudcore/internal/logging"
	"mudcore/internal/pathutil"
)

// LoadFunc compiles the module at a canonical path.
type LoadFunc func(ctx context.Context, path string) (*Module, error)

// Cache maps canonical paths to their live modules and keeps the dependency
// edges between them.
type Cache struct {
	resolver *pathutil.Resolver

	mu      sync.RWMutex
	modules map[string]*Module
	load    LoadFunc

	group singleflight.Group
}

// NewCache creates an empty cache. The resolver may be nil.
func NewCache(resolver *pathutil.Resolver) *Cache {
	return &Cache{resolver: resolver, modules: make(map[string]*Module)}
}

// SetLoader installs the function GetOrCreate compiles with.
func (c *Cache) SetLoader(load LoadFunc) {
	c.mu.Lock()
	c.load = load
	c.mu.Unlock()
}

// Canonical resolves path against from using the cache's aliases.
func (c *Cache) Canonical(path, from string) (string, error) {
	return c.resolver.Canonical(path, from)
}

// Get returns the cached module for path without compiling.
func (c *Cache) Get(path string) (*Module, error) {
	return c.Resolve(path, "")
}

// Resolve canonicalizes a possibly relative or aliased path against the
// requesting module path and returns the cached module, without compiling.
func (c *Cache) Resolve(path, from string) (*Module, error) {
	p, err := c.Canonical(path, from)
	if err != nil {
		return nil, err
	}
	if m, ok := c.lookup(p); ok {
		return m, nil
	}
	return nil, fmt.Errorf("module %s: %w", p, ErrNotFound)
}

func (c *Cache) lookup(p string) (*Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[p]
	return m, ok
}

// GetOrCreate returns the cached module for path, compiling it on a miss.
// Concurrent callers for the same uncompiled path share one compile. A
// caller whose leader was cancelled retries while its own ctx is live.
func (c *Cache) GetOrCreate(ctx context.Context, path string) (*Module, error) {
	p, err := c.Canonical(path, "")
	if err != nil {
		return nil, err
	}
	for {
		if m, ok := c.lookup(p); ok {
			return m, nil
		}
		c.mu.RLock()
		load := c.load
		c.mu.RUnlock()
		if load == nil {
			return nil, fmt.Errorf("module %s: %w", p, ErrNoLoader)
		}

		ch := c.group.DoChan(p, func() (interface{}, error) {
			if m, ok := c.lookup(p); ok {
				return m, nil
			}
			logging.CacheDebug("cache miss for %s, compiling", p)
			return load(ctx, p)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				if isContextErr(res.Err) && ctx.Err() == nil {
					logging.CacheDebug("leader compile of %s was cancelled, retrying", p)
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*Module), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Replace installs m as the live module for its path and returns the module
// it replaced, if any. Dependents of the old module carry over; dependency
// edges are rewritten to match m.
func (c *Cache) Replace(m *Module) *Module {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.modules[m.path]
	if old != nil {
		for _, d := range old.Dependents() {
			m.addDependent(d)
		}
		for _, dep := range old.dependencies {
			if dm, ok := c.modules[dep]; ok {
				dm.removeDependent(m.path)
			}
		}
	}
	for _, dep := range m.dependencies {
		if dm, ok := c.modules[dep]; ok {
			dm.addDependent(m.path)
		} else {
			logging.Get(logging.CategoryCache).Warn("module %s requires uncached %s", m.path, dep)
		}
	}
	c.modules[m.path] = m
	logging.CacheDebug("installed %s (replaced=%v, dependents=%v)", m.path, old != nil, m.Dependents())
	return old
}

// Delete removes the module at path. It fails with ErrInUse, leaving the
// cache unchanged, while the module has dependents or live instances.
func (c *Cache) Delete(path string) error {
	p, err := c.Canonical(path, "")
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.modules[p]
	if !ok {
		return fmt.Errorf("module %s: %w", p, ErrNotFound)
	}
	deps, n := m.Dependents(), m.InstanceCount()
	if len(deps) > 0 || n > 0 {
		return fmt.Errorf("module %s: %w (dependents %v, %d live instances)", p, ErrInUse, deps, n)
	}
	for _, dep := range m.dependencies {
		if dm, ok := c.modules[dep]; ok {
			dm.removeDependent(p)
		}
	}
	delete(c.modules, p)
	m.Retire()
	logging.Cache("deleted module %s", p)
	return nil
}

// GetType returns the named type of the cached module at path.
func (c *Cache) GetType(path, name string) (*Type, error) {
	m, err := c.Get(path)
	if err != nil {
		return nil, err
	}
	t, ok := m.Type(name)
	if !ok {
		return nil, fmt.Errorf("type %s: %w", Ref(m.path, name), ErrNotFound)
	}
	return t, nil
}

// Dependents lists the modules requiring the module at path.
func (c *Cache) Dependents(path string) ([]string, error) {
	m, err := c.Get(path)
	if err != nil {
		return nil, err
	}
	return m.Dependents(), nil
}

// Paths lists the cached paths, sorted.
func (c *Cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.modules))
	for p := range c.modules {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of cached modules.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules)
}
