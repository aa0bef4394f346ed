// Package cmd provides the CLI commands for amankb.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/config"
	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/logging"
	"github.com/Aman-CERP/amankb/internal/profiling"
	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/pkg/version"
)

// skipConfigAnnotation marks commands that run without loading configuration.
const skipConfigAnnotation = "amankb/skip-config"

// Global flags and the state derived from them in PersistentPreRunE.
var (
	debugMode      bool
	configDir      string
	dataDirFlag    string
	loadedConfig   *config.Config
	loggingCleanup func()
)

// Profiling flags
var (
	profileOpts profiling.Options
	profiler    *profiling.Session
)

// NewRootCmd creates the root command for the amankb CLI.
func NewRootCmd() *cobra.Command {
	debugMode, configDir, dataDirFlag = false, "", ""
	loadedConfig = nil
	profileOpts = profiling.Options{}

	cmd := &cobra.Command{
		Use:   "amankb",
		Short: "Offline knowledge base for JSON document exports",
		Long: `amankb imports JSON document exports into a local knowledge store
and searches them with a CJK-aware tiered cascade.

Typical use:
  amankb import exports/
  amankb search "建筑防火"
  amankb show 1234567890 --render`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amankb version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging (also written to stderr)")
	cmd.PersistentFlags().StringVar(&configDir, "config", "", "Directory holding .amankb.yaml (default: current directory)")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Knowledge base directory (overrides config)")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = setupConfigAndLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newForgetCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupConfigAndLogging loads the effective configuration and installs the
// file logger as the slog default.
func setupConfigAndLogging(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return nil
	}

	dir := configDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if dataDirFlag != "" {
		cfg.Paths.DataDir = dataDirFlag
	}
	loadedConfig = cfg

	cleanup, err := logging.SetupDefault(cfg.LogConfig(debugMode))
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup

	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("data_dir", cfg.Paths.DataDir),
		slog.String("version", version.Short()))

	if profileOpts.Enabled() {
		if profiler, err = profiling.Start(profileOpts); err != nil {
			return err
		}
	}
	return nil
}

// stopLogging stops profiling and flushes the log file.
func stopLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profiler != nil {
		err = profiler.Stop()
		profiler = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints failures in CLI form.
func Execute() error {
	err := NewRootCmd().Execute()
	_ = stopLogging(nil, nil)
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, kberrors.FormatForCLI(err))
	}
	return err
}

// currentConfig returns the configuration loaded for this invocation.
func currentConfig() *config.Config {
	if loadedConfig == nil {
		loadedConfig = config.NewConfig()
	}
	return loadedConfig
}

// openStore opens the knowledge store of cfg. With mustExist set a missing
// database is an error instead of being created.
func openStore(cfg *config.Config, mustExist bool) (*store.SQLiteStore, error) {
	path := store.StorePath(cfg.Paths.DataDir)
	if mustExist {
		if _, err := os.Stat(path); err != nil {
			return nil, kberrors.New(kberrors.ErrCodeFileNotFound, "no knowledge base found", err).
				WithDetail("path", path).
				WithSuggestion("Run 'amankb import <file|dir>' first")
		}
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, kberrors.IOError("failed to create data directory", err)
	}
	return store.NewStore(store.Config{Path: path, Backend: cfg.Search.Backend})
}
