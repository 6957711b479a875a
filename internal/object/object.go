// Package object keeps the table of live objects: for every identity, the
// instance currently backing it. Migration replaces the instance of an
// identity with one of a newly compiled type and retires the old instance;
// the storage record stays the same.
package object

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"mudcore/internal/logging"
	"mudcore/internal/module"
	"mudcore/internal/storage"
)

var (
	// ErrNotFound is returned for identities without a live object.
	ErrNotFound = errors.New("object not found")
	// ErrRetired is returned when dispatching to a replaced instance.
	ErrRetired = errors.New("object instance retired")
)

// Object is one instance of a compiled type bound to a storage record.
type Object struct {
	id      storage.ID
	typ     *module.Type
	record  *storage.Record
	retired atomic.Bool
}

func (o *Object) ID() storage.ID          { return o.id }
func (o *Object) Type() *module.Type      { return o.typ }
func (o *Object) Record() *storage.Record { return o.record }

// Retired reports whether the instance was replaced by a reload or
// destructed. Calls must not be dispatched to retired instances.
func (o *Object) Retired() bool { return o.retired.Load() }

// Check returns ErrRetired for retired instances.
func (o *Object) Check() error {
	if o.Retired() {
		return fmt.Errorf("object %s (%s): %w", o.id, o.typ.Ref(), ErrRetired)
	}
	return nil
}

// Table maps identities to their current instance.
type Table struct {
	records *storage.Container
	cache   *module.Cache

	mu      sync.RWMutex
	objects map[storage.ID]*Object
}

// NewTable creates an empty table backed by records and cache.
func NewTable(records *storage.Container, cache *module.Cache) *Table {
	return &Table{records: records, cache: cache, objects: make(map[storage.ID]*Object)}
}

// Records returns the storage container behind the table.
func (t *Table) Records() *storage.Container { return t.records }

// Create instantiates typ of m with a fresh identity and storage record.
func (t *Table) Create(m *module.Module, typ *module.Type, props map[string]any) (*Object, error) {
	return t.create(storage.NewID(), m, typ, props)
}

// Adopt instantiates typ for an identity whose record already exists, such
// as one restored from persistence.
func (t *Table) Adopt(id storage.ID, m *module.Module, typ *module.Type) (*Object, error) {
	rec, err := t.records.Reload(id, storage.Construction{Type: typ.Ref(), Defaults: typ.Defaults()})
	if err != nil {
		return nil, err
	}
	return t.install(&Object{id: id, typ: typ, record: rec}, m)
}

func (t *Table) create(id storage.ID, m *module.Module, typ *module.Type, props map[string]any) (*Object, error) {
	rec, err := t.records.Create(id, storage.Construction{
		Type:       typ.Ref(),
		Defaults:   typ.Defaults(),
		Properties: props,
		Flags:      storage.Flags(typ.Flags()),
	})
	if err != nil {
		return nil, err
	}
	obj, err := t.install(&Object{id: id, typ: typ, record: rec}, m)
	if err != nil {
		_ = t.records.Destroy(id)
		return nil, err
	}
	logging.DriverDebug("created %s as %s", id, typ.Ref())
	return obj, nil
}

// install publishes obj before recording it on m, so every instance a
// module records can be looked up.
func (t *Table) install(obj *Object, m *module.Module) (*Object, error) {
	t.mu.Lock()
	old, replaced := t.objects[obj.id]
	t.objects[obj.id] = obj
	t.mu.Unlock()

	if err := m.AddInstance(obj.id); err != nil {
		t.mu.Lock()
		if replaced {
			t.objects[obj.id] = old
		} else {
			delete(t.objects, obj.id)
		}
		t.mu.Unlock()
		return nil, err
	}
	if replaced {
		old.retired.Store(true)
	}
	return obj, nil
}

// Get returns the current instance of id.
func (t *Table) Get(id storage.ID) (*Object, error) {
	t.mu.RLock()
	obj, ok := t.objects[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	return obj, nil
}

// Migrate re-binds the record of id onto a new instance of typ and retires
// the previous instance. It fails with ErrNotFound, creating nothing, when
// the identity was destructed in the meantime.
func (t *Table) Migrate(id storage.ID, typ *module.Type) (*Object, error) {
	rec, err := t.records.Reload(id, storage.Construction{Type: typ.Ref(), Defaults: typ.Defaults()})
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	old, ok := t.objects[id]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	obj := &Object{id: id, typ: typ, record: rec}
	t.objects[id] = obj
	t.mu.Unlock()
	old.retired.Store(true)
	return obj, nil
}

// Destruct removes id, its record and its module membership.
func (t *Table) Destruct(id storage.ID) error {
	t.mu.Lock()
	obj, ok := t.objects[id]
	delete(t.objects, id)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	obj.retired.Store(true)
	if m, err := t.cache.Get(obj.typ.Path()); err == nil {
		m.RemoveInstance(id)
	}
	if err := t.records.Destroy(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	logging.DriverDebug("destructed %s (%s)", id, obj.typ.Ref())
	return nil
}

// IDs lists live identities, sorted.
func (t *Table) IDs() []storage.ID {
	t.mu.RLock()
	ids := make([]storage.ID, 0, len(t.objects))
	for id := range t.objects {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of live objects.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.objects)
}
