package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mudcore/pkg/api"
)

func noop(c *api.Call) (any, error) { return nil, nil }

func TestNewType_Inheritance(t *testing.T) {
	living := NewType("/std/Living", api.TypeDef{
		Name:     "Living",
		Flags:    api.FlagLiving,
		Defaults: map[string]any{"hp": 10, "mood": "neutral"},
		Verbs:    map[string]api.Verb{"look": noop, "move": noop},
	}, nil)
	harry := NewType("/npc/Harry", api.TypeDef{
		Name:     "Harry",
		Defaults: map[string]any{"mood": "friendly"},
		Verbs:    map[string]api.Verb{"greet": noop},
	}, living)

	assert.Equal(t, "/std/Living:Living", harry.Parent())
	assert.Equal(t, map[string]any{"hp": 10, "mood": "friendly"}, harry.Defaults())
	assert.Equal(t, []string{"greet", "look", "move"}, harry.VerbNames())
	assert.Equal(t, api.FlagLiving, harry.Flags())
	_, ok := living.Verb("greet")
	assert.False(t, ok, "children never leak into parents")
}

func TestType_DefaultsAreDeepCopied(t *testing.T) {
	def := api.TypeDef{Name: "Bag", Defaults: map[string]any{"inventory": map[string]any{}}}
	bag := NewType("/std/Bag", def, nil)
	def.Defaults["inventory"].(map[string]any)["sword"] = 1

	got := bag.Defaults()
	assert.Equal(t, map[string]any{}, got["inventory"], "type detached from its definition")
	got["inventory"].(map[string]any)["shield"] = 1
	assert.Equal(t, map[string]any{}, bag.Defaults()["inventory"], "callers get their own copy")
}

func TestType_Sealing(t *testing.T) {
	typ := NewType("/room/Square", api.TypeDef{Name: "Square"}, nil)
	require.NoError(t, typ.SetDefault("light", true))
	require.NoError(t, typ.SetVerb("look", noop))

	typ.Seal()
	assert.True(t, typ.Sealed())
	assert.ErrorIs(t, typ.SetDefault("light", false), ErrSealed)
	assert.ErrorIs(t, typ.SetVerb("look", nil), ErrSealed)
	assert.Equal(t, true, typ.Defaults()["light"])
}

func TestSplitRef(t *testing.T) {
	p, n := SplitRef("/std/Living:Living")
	assert.Equal(t, "/std/Living", p)
	assert.Equal(t, "Living", n)

	p, n = SplitRef("/std/Living")
	assert.Equal(t, "/std/Living", p)
	assert.Empty(t, n)
}

func TestModule_DuplicateTypes(t *testing.T) {
	a := NewType("/x", api.TypeDef{Name: "A"}, nil)
	_, err := New("/x", []*Type{a, a}, nil, 0, "")
	assert.Error(t, err)

	m, err := New("/x", []*Type{a}, []string{"/z", "/y"}, Recursive|NoSeal, "")
	require.NoError(t, err)
	first, ok := m.Type("")
	require.True(t, ok)
	assert.Same(t, a, first)
	assert.Equal(t, []string{"/y", "/z"}, m.Dependencies())
	assert.Equal(t, "recursive,no-seal", m.Flags().String())
}
