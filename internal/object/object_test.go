package object

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mudcore/internal/module"
	"mudcore/internal/storage"
	"mudcore/pkg/api"
)

func setup(t *testing.T) (*Table, *module.Cache, *module.Module) {
	t.Helper()
	cache := module.NewCache(nil)
	typ := module.NewType("/npc/Harry", api.TypeDef{
		Name:     "Harry",
		Flags:    api.FlagLiving,
		Defaults: map[string]any{"mood": "friendly"},
	}, nil)
	m, err := module.New("/npc/Harry", []*module.Type{typ}, nil, 0, "")
	require.NoError(t, err)
	cache.Replace(m)
	return NewTable(storage.New(), cache), cache, m
}

func TestTable_CreateGet(t *testing.T) {
	tbl, _, m := setup(t)
	typ, _ := m.Type("")
	obj, err := tbl.Create(m, typ, map[string]any{"mood": "sad"})
	require.NoError(t, err)

	got, err := tbl.Get(obj.ID())
	require.NoError(t, err)
	assert.Same(t, obj, got)
	mood, _ := obj.Record().GetString("mood")
	assert.Equal(t, "sad", mood)
	assert.True(t, obj.Record().HasFlag(storage.FlagLiving))
	assert.Equal(t, []storage.ID{obj.ID()}, m.Instances())
	assert.NoError(t, obj.Check())
}

func TestTable_CreateOnRetiredModule(t *testing.T) {
	tbl, _, m := setup(t)
	typ, _ := m.Type("")
	m.Retire()
	_, err := tbl.Create(m, typ, nil)
	assert.ErrorIs(t, err, module.ErrRetired)
	assert.Zero(t, tbl.Len())
	assert.Zero(t, tbl.Records().Len(), "record rolled back")
}

func TestTable_Migrate(t *testing.T) {
	tbl, _, m := setup(t)
	typ, _ := m.Type("")
	obj, err := tbl.Create(m, typ, nil)
	require.NoError(t, err)

	next := module.NewType("/npc/Harry", api.TypeDef{Name: "Harry", Defaults: map[string]any{"mood": "grumpy", "hat": "red"}}, nil)
	migrated, err := tbl.Migrate(obj.ID(), next)
	require.NoError(t, err)
	assert.True(t, obj.Retired())
	assert.ErrorIs(t, obj.Check(), ErrRetired)
	assert.Same(t, obj.Record(), migrated.Record())
	assert.Equal(t, map[string]any{"mood": "friendly", "hat": "red"}, migrated.Record().Properties())

	require.NoError(t, tbl.Destruct(obj.ID()))
	_, err = tbl.Migrate(obj.ID(), next)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTable_ConcurrentDestructAndMigrate(t *testing.T) {
	tbl, _, m := setup(t)
	typ, _ := m.Type("")
	var ids []storage.ID
	for i := 0; i < 50; i++ {
		obj, err := tbl.Create(m, typ, nil)
		require.NoError(t, err)
		ids = append(ids, obj.ID())
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func(id storage.ID) {
			defer wg.Done()
			_ = tbl.Destruct(id)
		}(id)
		go func(id storage.ID) {
			defer wg.Done()
			_, _ = tbl.Migrate(id, typ)
		}(id)
	}
	wg.Wait()

	assert.Zero(t, tbl.Len())
	assert.Zero(t, tbl.Records().Len(), "migration never resurrects a record")
	assert.Zero(t, m.InstanceCount())
}
