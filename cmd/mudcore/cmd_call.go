package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var callAs string

// callCmd clones an object and runs one verb on it
var callCmd = &cobra.Command{
	Use:   "call [ref] [verb] [args...]",
	Short: "Instantiate a type and call a verb on it",
	Long: `Compiles the module of ref if needed, creates an instance and runs
verb on it in a fresh call chain. ref is "/path" for the first type of a
module or "/path:Type".

Example:
  mudcore call /npc/Harry greet
  mudcore call /npc/Harry:Harry say hello --as wizard`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callAs, "as", "", "Acting player id")
}

func runCall(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(timeout)
	defer cancel()

	d := newDriver(cfg)
	obj, err := d.Clone(ctx, args[0], nil)
	if err != nil {
		return err
	}
	verbArgs := make([]any, 0, len(args)-2)
	for _, a := range args[2:] {
		verbArgs = append(verbArgs, a)
	}

	logger.Debug("Calling verb",
		zap.String("object", string(obj.ID())),
		zap.String("verb", args[1]),
		zap.String("player", callAs))
	out, err := d.Call(ctx, callAs, obj.ID(), args[1], verbArgs...)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatValue(out))
	return nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
