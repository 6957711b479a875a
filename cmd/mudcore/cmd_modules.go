package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mudcore/internal/module"
)

// modulesCmd lists the cache after preloading
var modulesCmd = &cobra.Command{
	Use:   "modules [paths...]",
	Short: "Preload modules and list the cache",
	Long: `Compiles the given paths, or the configured preload list when none
are given, and prints every cached module with its dependencies and
dependents.`,
	RunE: runModules,
}

func runModules(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(timeout)
	defer cancel()

	paths := args
	if len(paths) == 0 {
		paths = cfg.Preload
	}
	d := newDriver(cfg)
	if err := d.Preload(ctx, paths); err != nil {
		return err
	}
	return listModules(cmd.OutOrStdout(), d.Cache())
}

func listModules(w io.Writer, cache *module.Cache) error {
	for _, p := range cache.Paths() {
		m, err := cache.Get(p)
		if err != nil {
			// Unloaded since Paths was taken.
			continue
		}
		fmt.Fprintf(w, "%s\n", p)
		if deps := m.Dependencies(); len(deps) > 0 {
			fmt.Fprintf(w, "  requires:   %s\n", strings.Join(deps, ", "))
		}
		if dependents := m.Dependents(); len(dependents) > 0 {
			fmt.Fprintf(w, "  dependents: %s\n", strings.Join(dependents, ", "))
		}
		fmt.Fprintf(w, "  instances:  %d\n", m.InstanceCount())
	}
	return nil
}
