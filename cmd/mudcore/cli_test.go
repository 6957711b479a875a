package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mudcore/internal/config"
	"mudcore/internal/module"
)

const livingSrc = `package living

import "mudcore/pkg/api"

func Types() []api.TypeDef {
	return []api.TypeDef{{
		Name:     "Living",
		Defaults: map[string]interface{}{"hp": 10},
	}}
}
`

const harrySrc = `package harry

//mud:require /std/Living

import (
	"strings"

	"mudcore/pkg/api"
)

func Types() []api.TypeDef {
	return []api.TypeDef{{
		Name:     "Harry",
		Inherits: "/std/Living:Living",
		Verbs: map[string]api.Verb{
			"greet": func(c *api.Call) (interface{}, error) { return "hello", nil },
			"shout": func(c *api.Call) (interface{}, error) {
				var words []string
				for _, a := range c.Args {
					words = append(words, a.(string))
				}
				return strings.ToUpper(strings.Join(words, " ")), nil
			},
		},
	}}
}
`

func setupWorld(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	for file, src := range map[string]string{
		"std/Living.go": livingSrc,
		"npc/Harry.go":  harrySrc,
	} {
		path := filepath.Join(root, file)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(src), 0644); err != nil {
			t.Fatal(err)
		}
	}

	logger = zap.NewNop()
	c := config.DefaultConfig()
	c.Compiler.SourceRoot = root
	c.Preload = []string{"/npc/Harry"}
	cfg = c
	t.Cleanup(func() { cfg = nil })
	return c
}

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	return cmd, &out
}

func TestCompileCmd(t *testing.T) {
	setupWorld(t)
	cmd, out := newTestCmd()

	if err := runCompile(cmd, []string{"/npc/Harry"}); err != nil {
		t.Fatalf("runCompile failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "module /npc/Harry (1 types)") {
		t.Errorf("missing module line in output:\n%s", got)
	}
	if !strings.Contains(got, "as /npc/Harry:Harry") {
		t.Errorf("missing instance line in output:\n%s", got)
	}
	if !strings.Contains(got, "[/npc/Harry] ok") {
		t.Errorf("missing batch line in output:\n%s", got)
	}
}

func TestCompileCmd_MissingSource(t *testing.T) {
	setupWorld(t)
	cmd, _ := newTestCmd()

	if err := runCompile(cmd, []string{"/npc/Nobody"}); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestCompileFlags(t *testing.T) {
	defer func() {
		compileRecursive, compileOnly, compileOnlyDependents, compileNoSeal = false, false, false, false
	}()

	if f := compileFlags(); f != 0 {
		t.Errorf("expected no flags, got %v", f)
	}
	compileOnlyDependents = true
	compileNoSeal = true
	f := compileFlags()
	if !f.Has(module.OnlyCompileDependents | module.Recursive | module.NoSeal) {
		t.Errorf("unexpected flags %v", f)
	}
	if f.Has(module.CompileOnly) {
		t.Errorf("compile-only should not be set: %v", f)
	}
}

func TestCallCmd(t *testing.T) {
	setupWorld(t)
	cmd, out := newTestCmd()

	if err := runCall(cmd, []string{"/npc/Harry", "shout", "go", "away"}); err != nil {
		t.Fatalf("runCall failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "GO AWAY" {
		t.Errorf("expected GO AWAY, got %q", got)
	}
}

func TestCallCmd_UnknownVerb(t *testing.T) {
	setupWorld(t)
	cmd, _ := newTestCmd()

	if err := runCall(cmd, []string{"/npc/Harry:Harry", "dance"}); err == nil {
		t.Error("expected error for unknown verb")
	}
}

func TestModulesCmd(t *testing.T) {
	setupWorld(t)
	cmd, out := newTestCmd()

	if err := runModules(cmd, nil); err != nil {
		t.Fatalf("runModules failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"/npc/Harry\n",
		"requires:   /std/Living",
		"/std/Living\n",
		"dependents: /npc/Harry",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
