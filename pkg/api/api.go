// Package api is the surface game-object source is compiled against.
//
// A game-object source file declares a package, imports "mudcore/pkg/api"
// and exports a Types function returning the type definitions of the
// module. Verbs receive a *Call giving access to the object's storage
// record and to the execution context of the call chain:
//
//	package harry
//
//	import "mudcore/pkg/api"
//
//	//mud:require ../std/Living
//
//	func Types() []api.TypeDef {
//		return []api.TypeDef{{
//			Name:     "Harry",
//			Inherits: "/std/Living:Living",
//			Defaults: map[string]any{"mood": "friendly"},
//			Verbs: map[string]api.Verb{
//				"greet": func(c *api.Call) (any, error) {
//					return "hello " + c.ThisPlayer(), nil
//				},
//			},
//		}}
//	}
package api

// Verb is a callable entry point on an object.
type Verb func(c *Call) (any, error)

// Status flags an instance may be created with. They share bit positions
// with the driver's record flags.
const (
	FlagInteractive uint32 = 1 << iota
	FlagConnected
	FlagLiving
	FlagWizard
	FlagIdle
	FlagEditing
	FlagAwaitingInput
)

// TypeDef declares one exported type of a module.
type TypeDef struct {
	// Name must be unique within the module.
	Name string
	// Inherits references a parent type as "path:Type" or "path" (first
	// type of that module). The parent's module must be required.
	Inherits string
	// Defaults seed the properties of new instances; on reload, defaults
	// missing from existing instances are added.
	Defaults map[string]any
	// Flags seed the status flags of new instances.
	Flags uint32
	// Verbs are merged over inherited verbs.
	Verbs map[string]Verb
}

// Host is implemented by the driver for the duration of one verb call.
type Host interface {
	Object() string
	Get(key string) (any, bool)
	Set(key string, value any) error
	ThisPlayer() string
	TruePlayer() string
	CurrentVerb() string
	PreviousObject(n int) string
	Invoke(target, verb string, args ...any) (any, error)
	Force(player, target, verb string, args ...any) (any, error)
	Privileged() bool
	Emit(event string, args ...any) int
	Await(fn func() (any, error)) (any, error)
}

// Call is handed to every verb.
type Call struct {
	host Host
	Args []any
}

// NewCall binds a call to its host.
func NewCall(host Host, args []any) *Call {
	return &Call{host: host, Args: args}
}

// Object returns the id of the object the verb runs on.
func (c *Call) Object() string { return c.host.Object() }

// Get reads a property of this object.
func (c *Call) Get(key string) any {
	v, _ := c.host.Get(key)
	return v
}

// Lookup reads a property of this object and reports whether it exists.
func (c *Call) Lookup(key string) (any, bool) { return c.host.Get(key) }

// Set writes a property of this object.
func (c *Call) Set(key string, value any) error { return c.host.Set(key, value) }

// ThisPlayer is the acting identity used for permission checks.
func (c *Call) ThisPlayer() string { return c.host.ThisPlayer() }

// TruePlayer is the identity that initiated the outermost call.
func (c *Call) TruePlayer() string { return c.host.TruePlayer() }

// Verb returns the name of the verb being executed.
func (c *Call) Verb() string { return c.host.CurrentVerb() }

// PreviousObject returns the object n frames up the call chain; 0 is the
// direct caller.
func (c *Call) PreviousObject(n int) string { return c.host.PreviousObject(n) }

// Invoke calls a verb on another object within the same call chain.
func (c *Call) Invoke(target, verb string, args ...any) (any, error) {
	return c.host.Invoke(target, verb, args...)
}

// Force makes player act: the nested call runs with player as ThisPlayer
// while TruePlayer stays the initiator. Requires privilege.
func (c *Call) Force(player, target, verb string, args ...any) (any, error) {
	return c.host.Force(player, target, verb, args...)
}

// Privileged reports whether ThisPlayer carries the wizard flag.
func (c *Call) Privileged() bool { return c.host.Privileged() }

// Emit fires event on this object's listeners.
func (c *Call) Emit(event string, args ...any) int { return c.host.Emit(event, args...) }

// Await runs fn off the call chain and resumes with the chain's execution
// context restored.
func (c *Call) Await(fn func() (any, error)) (any, error) { return c.host.Await(fn) }

// Arg returns the i-th argument or nil.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}
