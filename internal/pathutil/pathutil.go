// Package pathutil canonicalizes game-object paths.
//
// A canonical path is slash-separated, absolute, cleaned and carries no
// source extension: "/npc/Harry". Relative paths are resolved against the
// directory of the requesting module, so "../std/Living" requested from
// "/npc/Harry" becomes "/std/Living".
package pathutil

import (
	"errors"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// SourceExt is the file extension of game-object source.
const SourceExt = ".go"

// ErrEmptyPath is returned when an empty path is canonicalized.
var ErrEmptyPath = errors.New("empty object path")

// Resolver canonicalizes paths, expanding configured aliases first.
// Aliases map a leading segment such as "~std" to a canonical prefix.
type Resolver struct {
	aliases map[string]string
	order   []string // longest alias first
}

// NewResolver creates a resolver for the given alias table.
func NewResolver(aliases map[string]string) *Resolver {
	r := &Resolver{aliases: make(map[string]string, len(aliases))}
	for k, v := range aliases {
		r.aliases[k] = v
		r.order = append(r.order, k)
	}
	sort.Slice(r.order, func(i, j int) bool {
		if len(r.order[i]) != len(r.order[j]) {
			return len(r.order[i]) > len(r.order[j])
		}
		return r.order[i] < r.order[j]
	})
	return r
}

// Canonical resolves p against the module path from.
func (r *Resolver) Canonical(p, from string) (string, error) {
	if r != nil {
		for _, alias := range r.order {
			if p == alias || strings.HasPrefix(p, alias+"/") {
				p = r.aliases[alias] + strings.TrimPrefix(p, alias)
				break
			}
		}
	}
	return Canonical(p, from)
}

// Canonical resolves p against the module path from without aliases.
func Canonical(p, from string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrEmptyPath
	}
	p = strings.TrimSuffix(p, SourceExt)
	if !strings.HasPrefix(p, "/") {
		dir := "/"
		if from != "" {
			dir = path.Dir(path.Clean("/" + strings.TrimPrefix(from, "/")))
		}
		p = path.Join(dir, p)
	}
	p = path.Clean(p)
	if p == "/" {
		return "", ErrEmptyPath
	}
	return p, nil
}

// SourceFile maps a canonical path to its file under root.
func SourceFile(root, canonical string) string {
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(canonical, "/"))) + SourceExt
}

// FromFile maps a file under root back to its canonical path. The second
// result is false when file is not game-object source under root.
func FromFile(root, file string) (string, bool) {
	if !strings.HasSuffix(file, SourceExt) || strings.HasSuffix(file, "_test"+SourceExt) {
		return "", false
	}
	rel, err := filepath.Rel(root, file)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return "/" + strings.TrimSuffix(filepath.ToSlash(rel), SourceExt), true
}
