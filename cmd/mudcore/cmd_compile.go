package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mudcore/internal/compiler"
	"mudcore/internal/module"
)

var (
	compileReload         bool
	compileRecursive      bool
	compileOnly           bool
	compileOnlyDependents bool
	compileNoSeal         bool
	compilePreload        bool
)

// compileCmd compiles one module
var compileCmd = &cobra.Command{
	Use:   "compile [path]",
	Short: "Compile a module and report the outcome",
	Long: `Compiles the module at path, loading its required modules first.

Without --compile-only the first type of the module is instantiated.
With --preload the configured preload list is compiled beforehand, so
--reload and --recursive act on a populated cache.

Example:
  mudcore compile /npc/Harry
  mudcore compile /std/Living --preload --reload --recursive`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().BoolVar(&compileReload, "reload", false, "Migrate live instances onto the new module")
	compileCmd.Flags().BoolVar(&compileRecursive, "recursive", false, "Recompile dependents too")
	compileCmd.Flags().BoolVar(&compileOnly, "compile-only", false, "Do not instantiate")
	compileCmd.Flags().BoolVar(&compileOnlyDependents, "only-dependents", false, "Recompile dependents but not the target")
	compileCmd.Flags().BoolVar(&compileNoSeal, "no-seal", false, "Leave types mutable")
	compileCmd.Flags().BoolVar(&compilePreload, "preload", false, "Compile the configured preload list first")
}

func compileFlags() module.Flags {
	var f module.Flags
	if compileRecursive {
		f |= module.Recursive
	}
	if compileOnly {
		f |= module.CompileOnly
	}
	if compileOnlyDependents {
		f |= module.OnlyCompileDependents | module.Recursive
	}
	if compileNoSeal {
		f |= module.NoSeal
	}
	return f
}

func runCompile(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(timeout)
	defer cancel()

	d := newDriver(cfg)
	if compilePreload {
		if err := d.Preload(ctx, cfg.Preload); err != nil {
			return err
		}
	}

	opts := compiler.Options{Path: args[0], Flags: compileFlags(), Reload: compileReload}
	logger.Info("Compiling", zap.String("path", opts.Path), zap.Stringer("flags", opts.Flags))
	res, err := d.Compile(ctx, opts)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return res.Err()
}

func printResult(w io.Writer, res *compiler.Result) {
	if res.Module != nil {
		fmt.Fprintf(w, "module %s (%d types)\n", res.Module.Path(), len(res.Module.Types()))
		for _, t := range res.Module.Types() {
			fmt.Fprintf(w, "  %s verbs=%v\n", t.Ref(), t.VerbNames())
		}
	}
	if res.Object != nil {
		fmt.Fprintf(w, "created %s as %s\n", res.Object.ID(), res.Object.Type().Ref())
	}
	for _, id := range res.Migrated {
		fmt.Fprintf(w, "migrated %s\n", id)
	}
	for _, m := range res.Migration {
		fmt.Fprintf(w, "migration failed: %v\n", m)
	}
	for _, b := range res.Batch {
		status := "ok"
		if !b.OK() {
			status = b.Err.Error()
		}
		fmt.Fprintf(w, "  [%s] %s\n", b.Path, status)
	}
}
