// datalake - file-based table catalog.
// Ingests CSV and Parquet files into a lake directory and keeps a JSON
// catalog of their schemas, locations and descriptions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/logflow/datalake/pkg/config"
	"github.com/logflow/datalake/pkg/logging"
	"github.com/logflow/datalake/pkg/telemetry"
	"github.com/logflow/datalake/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	rootFlag   string
	configFlag string
	engineFlag string
	logLevel   string
	jsonLogs   bool
	quiet      bool
	noVCS      bool
)

// env is the per-invocation environment built before any command runs.
type env struct {
	cfg *config.Config
	log zerolog.Logger
	out *tui.Printer
	tp  *telemetry.Provider
}

var app = &env{
	log: zerolog.Nop(),
	out: tui.NewPrinter(os.Stdout, false),
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		tui.NewPrinter(os.Stderr, false).Error(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "datalake",
	Short: "datalake - file-based table catalog",
	Long: `datalake stores CSV and Parquet tables on the local filesystem with a JSON
catalog describing each table's schema, location and description.

Layout:
  tables/<id>.<csv|parquet>
  tables/<id>.description.md
  metadata/catalog.json
  metadata/table_names.json`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlag, "root", "r", "", "Lake root directory (overrides lake.root)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Additional config file, applied last")
	rootCmd.PersistentFlags().StringVar(&engineFlag, "engine", "", "Schema inspection engine (native, duckdb)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print warnings and errors")
	rootCmd.PersistentFlags().BoolVar(&noVCS, "no-vcs", false, "Do not record changes with git")

	rootCmd.AddCommand(initCmd, addCmd, inspectCmd, listCmd, showCmd, verifyCmd, watchCmd)
}

// setup loads configuration and builds the logger and tracer. Flags win
// over every config layer.
func setup(cmd *cobra.Command, args []string) error {
	mgr := config.NewManager()
	if configFlag != "" {
		mgr.WithPaths(append(config.DefaultPaths(), configFlag)...)
	}
	if err := mgr.Load(); err != nil {
		return err
	}
	cfg := mgr.Get()

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Lake.Root = rootFlag
	}
	if flags.Changed("engine") {
		cfg.Inspect.Engine = engineFlag
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if jsonLogs {
		cfg.Log.Format = "json"
	}
	if noVCS {
		cfg.VCS.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	app.cfg = cfg
	app.out = tui.NewPrinter(os.Stdout, quiet)
	app.log = logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	app.log.Debug().Strs("config_files", mgr.GetPaths()).Str("root", cfg.Lake.Root).Msg("configuration loaded")

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.Init(cmd.Context(), telemetry.DefaultOTLPConfig(cfg.Telemetry.Endpoint))
		if err != nil {
			app.log.Warn().Err(err).Msg("tracing disabled")
		} else {
			app.tp = tp
		}
	}
	return nil
}

func teardown() error {
	if app.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.tp.Shutdown(ctx); err != nil {
		app.log.Warn().Err(err).Msg("failed to flush traces")
	}
	return nil
}
