package storage

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ID is the logical identity of an object. It survives recompilation of the
// object's type; only the type binding of the record changes.
type ID string

// NewID allocates a fresh object identity.
func NewID() ID {
	return ID(uuid.NewString())
}

// Flags is the status bitmask carried by every record.
type Flags uint32

const (
	FlagInteractive Flags = 1 << iota
	FlagConnected
	FlagLiving
	FlagWizard
	FlagIdle
	FlagEditing
	FlagAwaitingInput
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagInteractive, "interactive"},
	{FlagConnected, "connected"},
	{FlagLiving, "living"},
	{FlagWizard, "wizard"},
	{FlagIdle, "idle"},
	{FlagEditing, "editing"},
	{FlagAwaitingInput, "awaiting_input"},
}

// Has reports whether every bit of mask is set.
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
	return strings.Join(names, "|")
}

// Listener receives events emitted on a record.
type Listener func(event string, args ...any)

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// Record is the property bag bound to one object identity.
// All methods are safe for concurrent use; access is serialized per record.
type Record struct {
	id ID

	mu         sync.RWMutex
	binding    string
	generation uint64
	props      map[string]any
	flags      Flags
	listeners  map[string][]listenerEntry
	nextID     ListenerID
	destroyed  bool
}

func newRecord(id ID, c Construction) *Record {
	r := &Record{
		id:        id,
		binding:   c.Type,
		props:     make(map[string]any, len(c.Defaults)+len(c.Properties)),
		flags:     c.Flags,
		listeners: make(map[string][]listenerEntry),
	}
	for k, v := range c.Defaults {
		r.props[k] = CloneValue(v)
	}
	for k, v := range c.Properties {
		r.props[k] = v
	}
	return r
}

// CloneValue deep-copies the container kinds a default may hold
// (map[string]any and []any) so records never share them. Other values are
// returned as is.
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return x
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		if x == nil {
			return x
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CloneValue(e)
		}
		return out
	}
	return v
}

// ID returns the logical identity the record is bound to.
func (r *Record) ID() ID { return r.id }

// Binding returns the "path:Type" reference of the type currently backing
// the record.
func (r *Record) Binding() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.binding
}

// Generation counts the reloads the record went through.
func (r *Record) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Get returns a property value.
func (r *Record) Get(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.props[key]
	return v, ok
}

// GetString returns a string property; ok is false when missing or not a string.
func (r *Record) GetString(key string) (string, bool) {
	v, ok := r.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt returns an integer property, accepting any Go integer kind.
func (r *Record) GetInt(key string) (int64, bool) {
	v, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		// JSON-restored numbers
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// GetBool returns a boolean property.
func (r *Record) GetBool(key string) (bool, bool) {
	v, ok := r.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Set stores a property value.
func (r *Record) Set(key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return fmt.Errorf("record %s: %w", r.id, ErrDestroyed)
	}
	r.props[key] = value
	return nil
}

// Delete removes a property and reports whether it existed. Destroyed
// records are left untouched and report false.
func (r *Record) Delete(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return false
	}
	_, ok := r.props[key]
	delete(r.props, key)
	return ok
}

// Keys returns the property names in sorted order.
func (r *Record) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.props))
	for k := range r.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Properties returns a shallow copy of all properties.
func (r *Record) Properties() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.props))
	for k, v := range r.props {
		out[k] = v
	}
	return out
}

// Flags returns the status flag set.
func (r *Record) Flags() Flags {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags
}

// HasFlag reports whether all bits in mask are set.
func (r *Record) HasFlag(mask Flags) bool {
	return r.Flags().Has(mask)
}

// SetFlag sets the bits in mask.
func (r *Record) SetFlag(mask Flags) {
	r.mu.Lock()
	r.flags |= mask
	r.mu.Unlock()
}

// ClearFlag clears the bits in mask.
func (r *Record) ClearFlag(mask Flags) {
	r.mu.Lock()
	r.flags &^= mask
	r.mu.Unlock()
}

// On registers fn for event.
func (r *Record) On(event string, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.listeners[event] = append(r.listeners[event], listenerEntry{id: r.nextID, fn: fn})
	return r.nextID
}

// Off removes a listener and reports whether it was registered.
func (r *Record) Off(id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for event, entries := range r.listeners {
		for i, e := range entries {
			if e.id != id {
				continue
			}
			r.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			if len(r.listeners[event]) == 0 {
				delete(r.listeners, event)
			}
			return true
		}
	}
	return false
}

// Emit calls every listener for event in registration order and returns how
// many were called. Listeners run outside the record lock so they may read
// and write the record.
func (r *Record) Emit(event string, args ...any) int {
	r.mu.RLock()
	entries := append([]listenerEntry(nil), r.listeners[event]...)
	r.mu.RUnlock()
	for _, e := range entries {
		e.fn(event, args...)
	}
	return len(entries)
}

// Listeners returns the registered event names and listener counts.
func (r *Record) Listeners() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.listeners))
	for event, entries := range r.listeners {
		out[event] = len(entries)
	}
	return out
}

// rebind merges defaults that are not yet present and points the record at a
// new type. Must be called with r.mu held.
func (r *Record) rebind(c Construction) []string {
	var added []string
	for k, v := range c.Defaults {
		if _, ok := r.props[k]; ok {
			continue
		}
		r.props[k] = CloneValue(v)
		added = append(added, k)
	}
	sort.Strings(added)
	if c.Type != "" {
		r.binding = c.Type
	}
	r.generation++
	return added
}
