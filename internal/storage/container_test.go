package storage

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func harryCtor() Construction {
	return Construction{
		Type:       "/npc/Harry:Harry",
		Defaults:   map[string]any{"mood": "neutral", "hp": 10},
		Properties: map[string]any{"mood": "friendly"},
		Flags:      FlagLiving,
	}
}

func TestContainer_CreateGet(t *testing.T) {
	c := New()
	id := NewID()

	r, err := c.Create(id, harryCtor())
	require.NoError(t, err)
	assert.Equal(t, id, r.ID())
	assert.Equal(t, "/npc/Harry:Harry", r.Binding())

	mood, ok := r.GetString("mood")
	require.True(t, ok)
	assert.Equal(t, "friendly", mood, "construction properties override defaults")
	hp, ok := r.GetInt("hp")
	require.True(t, ok)
	assert.EqualValues(t, 10, hp)
	assert.True(t, r.HasFlag(FlagLiving))

	got, err := c.Get(id)
	require.NoError(t, err)
	assert.Same(t, r, got)

	_, err = c.Create(id, harryCtor())
	assert.ErrorIs(t, err, ErrExists)

	_, err = c.Get(NewID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContainer_ReloadPreservesValues(t *testing.T) {
	c := New()
	id := NewID()
	r, err := c.Create(id, harryCtor())
	require.NoError(t, err)
	require.NoError(t, r.Set("gold", 42))
	r.SetFlag(FlagWizard)
	before := r.Properties()

	reloaded, err := c.Reload(id, Construction{
		Type:     "/npc/Harry:Harry",
		Defaults: map[string]any{"mood": "grumpy", "hp": 99, "title": "the wise"},
	})
	require.NoError(t, err)
	assert.Same(t, r, reloaded, "reload re-binds, never replaces")
	assert.EqualValues(t, 1, r.Generation())
	assert.True(t, r.HasFlag(FlagWizard|FlagLiving))

	after := r.Properties()
	title, ok := after["title"]
	require.True(t, ok)
	assert.Equal(t, "the wise", title)
	delete(after, "title")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("existing properties changed across reload (-before +after):\n%s", diff)
	}
	assert.Equal(t, 1, c.Len())
}

func TestContainer_ReloadUnknownDoesNotFabricate(t *testing.T) {
	c := New()
	id := NewID()
	_, err := c.Reload(id, harryCtor())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, c.Len())

	_, err = c.Create(id, harryCtor())
	require.NoError(t, err)
	require.NoError(t, c.Destroy(id))
	_, err = c.Reload(id, harryCtor())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Destroy(id), ErrNotFound)
}

func TestRecord_DestroyedRejectsWrites(t *testing.T) {
	c := New()
	id := NewID()
	r, err := c.Create(id, harryCtor())
	require.NoError(t, err)
	require.NoError(t, c.Destroy(id))
	assert.ErrorIs(t, r.Set("mood", "dead"), ErrDestroyed)
	assert.False(t, r.Delete("mood"))
	mood, ok := r.GetString("mood")
	assert.True(t, ok, "destroyed records keep their last state")
	assert.Equal(t, "friendly", mood)
}

func TestContainer_DefaultsNotShared(t *testing.T) {
	c := New()
	ctor := Construction{
		Type: "/std/Bag:Bag",
		Defaults: map[string]any{
			"inventory": map[string]any{"coins": []any{"gold"}},
			"tags":      []any{"worn"},
		},
	}
	first, err := c.Create(NewID(), ctor)
	require.NoError(t, err)
	second, err := c.Create(NewID(), ctor)
	require.NoError(t, err)

	inv, _ := first.Get("inventory")
	inv.(map[string]any)["sword"] = 1
	inv.(map[string]any)["coins"].([]any)[0] = "copper"
	tags, _ := first.Get("tags")
	tags.([]any)[0] = "torn"

	want := map[string]any{"coins": []any{"gold"}}
	got, _ := second.Get("inventory")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("second record saw first record's writes (-want +got):\n%s", diff)
	}
	got, _ = second.Get("tags")
	assert.Equal(t, []any{"worn"}, got)
	assert.Equal(t, want, ctor.Defaults["inventory"], "construction defaults untouched")

	r, err := c.Create(NewID(), Construction{})
	require.NoError(t, err)
	_, err = c.Reload(r.ID(), ctor)
	require.NoError(t, err)
	inv, _ = r.Get("inventory")
	inv.(map[string]any)["shield"] = 1
	assert.Equal(t, want, ctor.Defaults["inventory"], "reload copies added defaults")
}

func TestRecord_Listeners(t *testing.T) {
	c := New()
	r, err := c.Create(NewID(), harryCtor())
	require.NoError(t, err)

	var got []string
	first := r.On("enter", func(event string, args ...any) {
		got = append(got, fmt.Sprintf("first:%v", args[0]))
	})
	r.On("enter", func(event string, args ...any) {
		got = append(got, fmt.Sprintf("second:%v", args[0]))
		_ = r.Set("last_seen", args[0]) // listeners may touch the record
	})

	assert.Equal(t, 2, r.Emit("enter", "PlayerY"))
	assert.Equal(t, []string{"first:PlayerY", "second:PlayerY"}, got)
	assert.Equal(t, map[string]int{"enter": 2}, r.Listeners())

	assert.True(t, r.Off(first))
	assert.False(t, r.Off(first))
	assert.Equal(t, 1, r.Emit("enter", "PlayerZ"))
	assert.Equal(t, 0, r.Emit("leave"))
	seen, _ := r.GetString("last_seen")
	assert.Equal(t, "PlayerZ", seen)
}

func TestRecord_TypedAccessors(t *testing.T) {
	c := New()
	r, err := c.Create(NewID(), Construction{Properties: map[string]any{
		"name": "Harry", "level": int32(3), "restored": float64(7), "ratio": 0.5, "asleep": true,
	}})
	require.NoError(t, err)

	_, ok := r.GetString("level")
	assert.False(t, ok)
	n, ok := r.GetInt("level")
	assert.True(t, ok)
	assert.EqualValues(t, 3, n)
	n, ok = r.GetInt("restored")
	assert.True(t, ok)
	assert.EqualValues(t, 7, n)
	_, ok = r.GetInt("ratio")
	assert.False(t, ok)
	b, ok := r.GetBool("asleep")
	assert.True(t, ok)
	assert.True(t, b)
	assert.Equal(t, []string{"asleep", "level", "name", "ratio", "restored"}, r.Keys())
	assert.True(t, r.Delete("ratio"))
	assert.False(t, r.Delete("ratio"))
}

func TestRecord_GetIntRejectsOverflow(t *testing.T) {
	c := New()
	r, err := c.Create(NewID(), Construction{Properties: map[string]any{
		"huge": uint64(math.MaxUint64), "edge": uint64(math.MaxInt64), "big": uint(math.MaxInt64) + 1,
	}})
	require.NoError(t, err)

	_, ok := r.GetInt("huge")
	assert.False(t, ok)
	_, ok = r.GetInt("big")
	assert.False(t, ok)
	n, ok := r.GetInt("edge")
	assert.True(t, ok)
	assert.EqualValues(t, int64(math.MaxInt64), n)
}

func TestFlags(t *testing.T) {
	f := FlagInteractive | FlagConnected
	assert.True(t, f.Has(FlagConnected))
	assert.False(t, f.Has(FlagConnected|FlagWizard))
	assert.Equal(t, "interactive|connected", f.String())
	assert.Equal(t, "none", Flags(0).String())

	c := New()
	r, err := c.Create(NewID(), Construction{Flags: f})
	require.NoError(t, err)
	r.ClearFlag(FlagConnected)
	r.SetFlag(FlagIdle)
	assert.Equal(t, FlagInteractive|FlagIdle, r.Flags())
}

func TestContainer_SnapshotRestore(t *testing.T) {
	src := New()
	id := NewID()
	r, err := src.Create(id, harryCtor())
	require.NoError(t, err)
	_, err = src.Reload(id, Construction{Type: "/npc/Harry:Harry"})
	require.NoError(t, err)
	r.SetFlag(FlagWizard)

	states := src.Snapshot()
	require.Len(t, states, 1)

	dst := New()
	require.NoError(t, dst.Restore(states))
	if diff := cmp.Diff(states, dst.Snapshot()); diff != "" {
		t.Errorf("restore mismatch (-want +got):\n%s", diff)
	}
	assert.ErrorIs(t, dst.Restore(states), ErrExists)
}

func TestContainer_ConcurrentReloadAndReads(t *testing.T) {
	c := New()
	id := NewID()
	r, err := c.Create(id, harryCtor())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := c.Reload(id, Construction{
				Type:     "/npc/Harry:Harry",
				Defaults: map[string]any{fmt.Sprintf("k%d", i): i, "mood": "overwritten?"},
			})
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			mood, _ := r.GetString("mood")
			assert.Equal(t, "friendly", mood)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 8, r.Generation())
	assert.Len(t, r.Keys(), 2+8)
	assert.Equal(t, 1, c.Len(), "reload never duplicates a record")
}
