package pathutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		path string
		from string
		want string
	}{
		{"absolute", "/room/Square", "", "/room/Square"},
		{"strips extension", "/room/Square.go", "", "/room/Square"},
		{"relative sibling", "Living", "/std/Base", "/std/Living"},
		{"relative parent", "../std/Living", "/npc/Harry", "/std/Living"},
		{"relative without requester", "npc/Harry", "", "/npc/Harry"},
		{"cleans dots", "/npc/./sub/../Harry", "", "/npc/Harry"},
		{"cannot escape root", "../../../npc/Harry", "/a/B", "/npc/Harry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(tt.path, tt.from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonical_Empty(t *testing.T) {
	_, err := Canonical("  ", "/npc/Harry")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = Canonical("/", "")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestResolver_Aliases(t *testing.T) {
	r := NewResolver(map[string]string{
		"~std":     "/std",
		"~std/npc": "/lib/npc",
	})

	got, err := r.Canonical("~std/Living", "/npc/Harry")
	require.NoError(t, err)
	assert.Equal(t, "/std/Living", got)

	got, err = r.Canonical("~std/npc/Guard", "")
	require.NoError(t, err)
	assert.Equal(t, "/lib/npc/Guard", got, "longest alias wins")

	got, err = r.Canonical("~stdlib/X", "")
	require.NoError(t, err)
	assert.Equal(t, "/~stdlib/X", got, "alias must match a whole segment")
}

func TestSourceFileRoundTrip(t *testing.T) {
	root := filepath.Join("srv", "lib")
	file := SourceFile(root, "/npc/Harry")
	assert.Equal(t, filepath.Join("srv", "lib", "npc", "Harry.go"), file)

	p, ok := FromFile(root, file)
	require.True(t, ok)
	assert.Equal(t, "/npc/Harry", p)

	_, ok = FromFile(root, filepath.Join("srv", "other", "X.go"))
	assert.False(t, ok)
	_, ok = FromFile(root, filepath.Join(root, "npc", "notes.txt"))
	assert.False(t, ok)
}
