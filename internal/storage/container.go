// Package storage owns the Storage Records of live objects.
//
// A Container maps object identities to Records. A record is created with the
// first instantiation of an object, re-bound (never replaced) every time the
// object's module is reloaded, and removed when the object is destructed.
package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"mudcore/internal/logging"
)

var (
	// ErrNotFound is returned for identities without a record.
	ErrNotFound = errors.New("storage record not found")
	// ErrExists is returned when creating a record for a bound identity.
	ErrExists = errors.New("storage record already exists")
	// ErrDestroyed is returned when writing to a destructed record.
	ErrDestroyed = errors.New("storage record destroyed")
)

// Construction supplies the initial state of a record.
type Construction struct {
	// Type is the "path:Type" reference of the backing type.
	Type string
	// Defaults are the type's default properties.
	Defaults map[string]any
	// Properties override defaults at creation time.
	Properties map[string]any
	// Flags seeds the status flag set.
	Flags Flags
}

// Container maps object identities to their records.
type Container struct {
	mu      sync.RWMutex
	records map[ID]*Record
}

// New creates an empty container.
func New() *Container {
	return &Container{records: make(map[ID]*Record)}
}

// Create allocates the record for id.
func (c *Container) Create(id ID, ctor Construction) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[id]; ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrExists)
	}
	r := newRecord(id, ctor)
	c.records[id] = r
	logging.StorageDebug("created record %s bound to %s", id, ctor.Type)
	return r, nil
}

// Get returns the record for id.
func (c *Container) Get(id ID) (*Record, error) {
	c.mu.RLock()
	r, ok := c.records[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// Reload re-binds the existing record of id to a newly compiled type,
// adding defaults the new type introduced without touching existing values.
// The update happens under the record lock, so readers observe either the
// old or the new binding, never a mix. Reload never creates a record.
func (c *Container) Reload(id ID, ctor Construction) (*Record, error) {
	r, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	added := r.rebind(ctor)
	logging.StorageDebug("reloaded record %s onto %s (generation %d, new defaults %v)", id, r.binding, r.generation, added)
	return r, nil
}

// Destroy removes the record of id.
func (c *Container) Destroy(id ID) error {
	c.mu.Lock()
	r, ok := c.records[id]
	delete(c.records, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	r.mu.Lock()
	r.destroyed = true
	r.listeners = make(map[string][]listenerEntry)
	r.mu.Unlock()
	logging.StorageDebug("destroyed record %s", id)
	return nil
}

// Len returns the number of live records.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// IDs returns all live identities in sorted order.
func (c *Container) IDs() []ID {
	c.mu.RLock()
	ids := make([]ID, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// State is a point-in-time copy of a record, used by persistence.
// Listeners are not part of the state.
type State struct {
	ID         ID             `json:"id"`
	Binding    string         `json:"binding"`
	Generation uint64         `json:"generation"`
	Flags      Flags          `json:"flags"`
	Properties map[string]any `json:"properties"`
}

// Snapshot copies the state of every live record.
func (c *Container) Snapshot() []State {
	ids := c.IDs()
	out := make([]State, 0, len(ids))
	for _, id := range ids {
		r, err := c.Get(id)
		if err != nil {
			continue // destroyed since IDs()
		}
		r.mu.RLock()
		st := State{ID: r.id, Binding: r.binding, Generation: r.generation, Flags: r.flags,
			Properties: make(map[string]any, len(r.props))}
		for k, v := range r.props {
			st.Properties[k] = v
		}
		r.mu.RUnlock()
		out = append(out, st)
	}
	return out
}

// Restore recreates records from persisted states. Identities that already
// have a record are rejected with ErrExists; earlier states stay restored.
func (c *Container) Restore(states []State) error {
	for _, st := range states {
		r, err := c.Create(st.ID, Construction{Type: st.Binding, Properties: st.Properties, Flags: st.Flags})
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.generation = st.Generation
		r.mu.Unlock()
	}
	logging.Storage("restored %d records", len(states))
	return nil
}
