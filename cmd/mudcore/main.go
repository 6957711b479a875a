package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mudcore/internal/compiler"
	"mudcore/internal/config"
	"mudcore/internal/driver"
	"mudcore/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	sourceRoot string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mudcore",
	Short: "mudcore - MUD runtime core",
	Long: `mudcore compiles game-object source into cached modules, keeps the
world's instance records and runs verbs on them inside call chains.

Source files live under the source root; "/npc/Harry" is read from
<source_root>/npc/Harry.go.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if sourceRoot != "" {
			cfg.Compiler.SourceRoot = sourceRoot
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if err := logging.Initialize(cfg.Logging.ToLogging()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.L()
		logging.Boot("mudcore %s starting (source root %s)", cmd.Name(), cfg.Compiler.SourceRoot)
		logging.BootDebug("config %s: %d preload modules, %d allowed imports, compile timeout %v",
			configPath, len(cfg.Preload), len(cfg.Compiler.AllowedImports), cfg.GetCompileTimeout())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mudcore.yaml", "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&sourceRoot, "root", "r", "", "Source root (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout for one-shot commands")

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newDriver builds a driver over the configured source root.
func newDriver(c *config.Config) *driver.Driver {
	return driver.New(driver.Config{
		Source:         compiler.DirSource{Root: c.Compiler.SourceRoot},
		Aliases:        c.Compiler.Aliases,
		AllowedImports: c.Compiler.AllowedImports,
		CompileTimeout: c.GetCompileTimeout(),
		PreloadWorkers: c.Compiler.PreloadWorkers,
	})
}

// commandContext returns a context bounded by the timeout flag and cancelled
// on SIGINT or SIGTERM.
func commandContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if d <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		tcancel()
		cancel()
	}
}
