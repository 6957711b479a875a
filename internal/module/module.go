// Package module holds compiled modules and the cache that maps canonical
// paths to them.
//
// A Module is produced by a successful compile of one source path and is
// immutable except for its instance and dependent sets. Replacing a module
// swaps the cached pointer under the cache lock, so readers see either the
// old or the new module, never a partial one.
package module

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mudcore/internal/storage"
)

var (
	// ErrNotFound is returned for paths or types that are not cached.
	ErrNotFound = errors.New("module not found")
	// ErrInUse is returned when a module still has dependents or instances.
	ErrInUse = errors.New("module in use")
	// ErrSealed is returned when mutating a sealed type.
	ErrSealed = errors.New("type is sealed")
	// ErrRetired is returned when using a module that has been replaced.
	ErrRetired = errors.New("module retired")
	// ErrNoLoader is returned by GetOrCreate when the cache cannot compile.
	ErrNoLoader = errors.New("module cache has no loader")
)

// Flags control a compile.
type Flags uint8

const (
	// Recursive also recompiles every module depending on the target.
	Recursive Flags = 1 << iota
	// CompileOnly replaces the cached module without instantiating or
	// migrating instances.
	CompileOnly
	// OnlyCompileDependents recompiles the dependents but not the target.
	OnlyCompileDependents
	// NoSeal leaves the compiled types mutable. Debugging only.
	NoSeal
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{Recursive, "recursive"},
	{CompileOnly, "compile-only"},
	{OnlyCompileDependents, "only-dependents"},
	{NoSeal, "no-seal"},
}

// Has reports whether all bits of mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Module is the compiled artifact of one source path.
type Module struct {
	path         string
	types        []*Type
	byName       map[string]*Type
	dependencies []string
	compiledAt   time.Time
	flags        Flags
	digest       string

	mu         sync.RWMutex
	instances  map[storage.ID]struct{}
	dependents map[string]struct{}
	retired    bool
}

// New assembles a module. Type names must be unique.
func New(path string, types []*Type, dependencies []string, flags Flags, digest string) (*Module, error) {
	m := &Module{
		path:         path,
		types:        types,
		byName:       make(map[string]*Type, len(types)),
		dependencies: append([]string(nil), dependencies...),
		compiledAt:   time.Now(),
		flags:        flags,
		digest:       digest,
		instances:    make(map[storage.ID]struct{}),
		dependents:   make(map[string]struct{}),
	}
	sort.Strings(m.dependencies)
	for _, t := range types {
		if t.Name() == "" {
			return nil, fmt.Errorf("module %s: type without a name", path)
		}
		if _, dup := m.byName[t.Name()]; dup {
			return nil, fmt.Errorf("module %s: duplicate type %q", path, t.Name())
		}
		m.byName[t.Name()] = t
	}
	return m, nil
}

func (m *Module) Path() string          { return m.path }
func (m *Module) CompiledAt() time.Time { return m.compiledAt }
func (m *Module) Flags() Flags          { return m.flags }

// Digest identifies the source the module was compiled from.
func (m *Module) Digest() string { return m.digest }

// Types returns the exported types in declaration order.
func (m *Module) Types() []*Type { return append([]*Type(nil), m.types...) }

// Type looks up a type by name; an empty name selects the first type.
func (m *Module) Type(name string) (*Type, bool) {
	if name == "" {
		if len(m.types) == 0 {
			return nil, false
		}
		return m.types[0], true
	}
	t, ok := m.byName[name]
	return t, ok
}

// Dependencies lists the modules this one requires.
func (m *Module) Dependencies() []string { return append([]string(nil), m.dependencies...) }

// Dependents lists the modules requiring this one, sorted.
func (m *Module) Dependents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.dependents)
}

func (m *Module) addDependent(path string) {
	m.mu.Lock()
	m.dependents[path] = struct{}{}
	m.mu.Unlock()
}

func (m *Module) removeDependent(path string) {
	m.mu.Lock()
	delete(m.dependents, path)
	m.mu.Unlock()
}

// AddInstance records a live instance created from one of the module's types.
func (m *Module) AddInstance(id storage.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retired {
		return fmt.Errorf("module %s: %w", m.path, ErrRetired)
	}
	m.instances[id] = struct{}{}
	return nil
}

// RemoveInstance forgets an instance and reports whether it was recorded.
func (m *Module) RemoveInstance(id storage.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[id]
	delete(m.instances, id)
	return ok
}

// Instances lists the live instances, sorted.
func (m *Module) Instances() []storage.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]storage.ID, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// InstanceCount returns the number of live instances.
func (m *Module) InstanceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// Retire marks the module as replaced or deleted; no instances can be
// added afterwards.
func (m *Module) Retire() {
	m.mu.Lock()
	m.retired = true
	m.mu.Unlock()
}

// Retired reports whether the module has been replaced or deleted.
func (m *Module) Retired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retired
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
