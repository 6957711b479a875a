package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"mudcore/internal/pathutil"
	"mudcore/pkg/api"
)

// RequireDirective declares a dependency on another module.
const RequireDirective = "//mud:require"

// Source reads game-object source by canonical path.
type Source interface {
	ReadSource(path string) ([]byte, error)
}

// DirSource reads "<Root>/npc/Harry.go" for "/npc/Harry".
type DirSource struct {
	Root string
}

func (d DirSource) ReadSource(path string) ([]byte, error) {
	return os.ReadFile(pathutil.SourceFile(d.Root, path))
}

// FSSource reads from an fs.FS rooted at the source root.
type FSSource struct {
	FS fs.FS
}

func (f FSSource) ReadSource(path string) ([]byte, error) {
	return fs.ReadFile(f.FS, strings.TrimPrefix(path, "/")+pathutil.SourceExt)
}

// Digest identifies a source text; modules record the digest of the source
// they were compiled from.
func Digest(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// unit is the result of scanning a source file before evaluation.
type unit struct {
	pkg      string
	code     string
	imports  []string
	requires []string
	digest   string
}

// scan extracts the require directives line by line and the package clause
// and imports with go/parser. Source without a package clause is wrapped
// into package main.
func scan(src []byte) (*unit, error) {
	u := &unit{code: string(src), digest: Digest(src)}

	hasPackage := false
	for n, line := range strings.Split(u.code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, RequireDirective) {
			req := strings.TrimSpace(strings.TrimPrefix(trimmed, RequireDirective))
			if req == "" {
				return nil, fmt.Errorf("line %d: %s without a path", n+1, RequireDirective)
			}
			u.requires = append(u.requires, req)
			continue
		}
		if strings.HasPrefix(trimmed, "package ") {
			hasPackage = true
		}
	}
	if !hasPackage {
		u.code = "package main\n\n" + u.code
	}

	f, err := parser.ParseFile(token.NewFileSet(), "", u.code, parser.ImportsOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to parse imports: %w", err)
	}
	u.pkg = f.Name.Name
	for _, spec := range f.Imports {
		pkg, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return nil, fmt.Errorf("bad import %s: %w", spec.Path.Value, err)
		}
		u.imports = append(u.imports, pkg)
	}
	return u, nil
}

// whitelist is the set of packages game-object source may import.
type whitelist map[string]bool

func newWhitelist(allowed []string) whitelist {
	w := whitelist{api.ImportPath: true}
	for _, pkg := range allowed {
		w[pkg] = true
	}
	return w
}

func (w whitelist) validate(imports []string) error {
	var forbidden []string
	for _, pkg := range imports {
		if !w[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports detected: %v (allowed: %v)", forbidden, w.list())
	}
	return nil
}

// exports returns the interpreter symbol table for the allowed packages.
// Packages outside the whitelist cannot resolve even if the import scan
// missed them.
func (w whitelist) exports() interp.Exports {
	out := make(interp.Exports)
	for key, syms := range stdlib.Symbols {
		// Keys are "<import path>/<package name>".
		i := strings.LastIndexByte(key, '/')
		if i < 0 || !w[key[:i]] {
			continue
		}
		out[key] = syms
	}
	for key, syms := range api.Symbols {
		out[key] = syms
	}
	return out
}

func (w whitelist) list() []string {
	pkgs := make([]string, 0, len(w))
	for pkg := range w {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

// DefaultAllowedImports are the standard packages game-object source may
// use unless configured otherwise.
var DefaultAllowedImports = []string{
	"bytes",
	"errors",
	"fmt",
	"math",
	"math/rand",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"encoding/json",
}
