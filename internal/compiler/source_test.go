package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	u, err := scan([]byte(`package harry

import (
	"strings"
	str "strconv" // numbers
	"mudcore/pkg/api"
)

//mud:require ../std/Living
//mud:require ~std/Emotes
`))
	require.NoError(t, err)
	assert.Equal(t, "harry", u.pkg)
	assert.Equal(t, []string{"strings", "strconv", "mudcore/pkg/api"}, u.imports)
	assert.Equal(t, []string{"../std/Living", "~std/Emotes"}, u.requires)
	assert.Len(t, u.digest, 64)
}

func TestScan_WrapsBareSource(t *testing.T) {
	u, err := scan([]byte("import \"fmt\"\n\nfunc Types() {}\n"))
	require.NoError(t, err)
	assert.Equal(t, "main", u.pkg)
	assert.Equal(t, []string{"fmt"}, u.imports)
	assert.Contains(t, u.code, "package main")
}

func TestScan_ImportOnGroupLine(t *testing.T) {
	u, err := scan([]byte("package x\n\nimport (\"os\"; \"fmt\"\n\t\"mudcore/pkg/api\"\n)\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"os", "fmt", "mudcore/pkg/api"}, u.imports)
}

func TestScan_ParseError(t *testing.T) {
	_, err := scan([]byte("package x\n\nimport (\"fmt\"\n"))
	assert.Error(t, err)
}

func TestScan_EmptyRequire(t *testing.T) {
	_, err := scan([]byte("package x\n//mud:require\n"))
	assert.Error(t, err)
}

func TestScan_DigestTracksContent(t *testing.T) {
	a, _ := scan([]byte("package x\n"))
	b, _ := scan([]byte("package x\n"))
	c, _ := scan([]byte("package y\n"))
	assert.Equal(t, a.digest, b.digest)
	assert.NotEqual(t, a.digest, c.digest)
}

func TestWhitelist(t *testing.T) {
	w := newWhitelist([]string{"strings"})
	assert.NoError(t, w.validate([]string{"strings", "mudcore/pkg/api"}))
	err := w.validate([]string{"os", "strings", "net/http"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[os net/http]")
}

func TestWhitelist_Exports(t *testing.T) {
	ex := newWhitelist([]string{"strings", "math/rand"}).exports()
	assert.Contains(t, ex, "strings/strings")
	assert.Contains(t, ex, "math/rand/rand")
	assert.Contains(t, ex, "mudcore/pkg/api/api")
	assert.NotContains(t, ex, "os/os")
	assert.NotContains(t, ex, "math/math")
}

func TestCyclicDependencyError(t *testing.T) {
	err := &CyclicDependencyError{Cycle: []string{"/a", "/b", "/a"}}
	assert.Equal(t, "cyclic dependency: /a -> /b -> /a", err.Error())
}
