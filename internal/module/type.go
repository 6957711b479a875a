package module

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"mudcore/internal/storage"
	"mudcore/pkg/api"
)

// Type is one compiled, exported type of a module. Defaults and verbs are
// fully resolved: inherited entries overlaid by the type's own.
type Type struct {
	path   string
	name   string
	parent string
	flags  uint32

	mu       sync.RWMutex
	defaults map[string]any
	verbs    map[string]api.Verb
	sealed   bool
}

// NewType resolves def against its parent (which may be nil).
func NewType(path string, def api.TypeDef, parent *Type) *Type {
	t := &Type{
		path:     path,
		name:     def.Name,
		flags:    def.Flags,
		defaults: make(map[string]any),
		verbs:    make(map[string]api.Verb),
	}
	if parent != nil {
		t.parent = parent.Ref()
		t.flags |= parent.Flags()
		for k, v := range parent.Defaults() {
			t.defaults[k] = v
		}
		parent.mu.RLock()
		for k, v := range parent.verbs {
			t.verbs[k] = v
		}
		parent.mu.RUnlock()
	}
	for k, v := range def.Defaults {
		t.defaults[k] = storage.CloneValue(v)
	}
	for k, v := range def.Verbs {
		if v != nil {
			t.verbs[k] = v
		}
	}
	return t
}

// Ref formats a type reference as "path:Type".
func Ref(path, name string) string { return path + ":" + name }

// SplitRef splits "path:Type". A reference without a type name yields an
// empty name, meaning the module's first type.
func SplitRef(ref string) (path, name string) {
	if i := strings.LastIndex(ref, ":"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

func (t *Type) Name() string   { return t.name }
func (t *Type) Path() string   { return t.path }
func (t *Type) Ref() string    { return Ref(t.path, t.name) }
func (t *Type) Parent() string { return t.parent }
func (t *Type) Flags() uint32  { return t.flags }

// Defaults returns a deep copy of the resolved default properties.
func (t *Type) Defaults() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]any, len(t.defaults))
	for k, v := range t.defaults {
		out[k] = storage.CloneValue(v)
	}
	return out
}

// Verb looks up a verb.
func (t *Type) Verb(name string) (api.Verb, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.verbs[name]
	return v, ok
}

// VerbNames lists the verbs in sorted order.
func (t *Type) VerbNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.verbs))
	for k := range t.verbs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Seal forbids further structural mutation.
func (t *Type) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// Sealed reports whether the type is sealed.
func (t *Type) Sealed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sealed
}

// SetDefault changes a default property of an unsealed type.
func (t *Type) SetDefault(key string, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return fmt.Errorf("type %s: %w", t.Ref(), ErrSealed)
	}
	t.defaults[key] = storage.CloneValue(value)
	return nil
}

// SetVerb adds or replaces a verb of an unsealed type. A nil verb removes it.
func (t *Type) SetVerb(name string, v api.Verb) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return fmt.Errorf("type %s: %w", t.Ref(), ErrSealed)
	}
	if v == nil {
		delete(t.verbs, name)
	} else {
		t.verbs[name] = v
	}
	return nil
}
