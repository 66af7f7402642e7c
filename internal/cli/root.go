package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rshade/regscan/internal/config"
	"github.com/rshade/regscan/internal/logging"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// logger is the package-level logger for CLI operations.
var logger zerolog.Logger //nolint:gochecknoglobals // Required for zerolog context integration

// NewRootCmd creates the root Cobra command for the regscan CLI.
func NewRootCmd(ver string) *cobra.Command {
	return NewRootCmdWithEnv(ver, os.LookupEnv)
}

// NewRootCmdWithEnv creates the root command with an explicit env lookup for testability.
func NewRootCmdWithEnv(ver string, lookupEnv func(string) (string, bool)) *cobra.Command {
	var (
		logResult  *logging.LogPathResult
		configFile string
		projectDir string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:           "regscan",
		Short:         "Modbus register scanner",
		Long:          "regscan discovers which Modbus registers a device answers, using adaptive batch reads.",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				cmd.PrintErrf("Warning: %v\n", err)
			}

			if err := loadConfig(cmd, configFile, projectDir, lookupEnv); err != nil {
				return err
			}

			result := setupLogging(cmd)
			logResult = &result
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return cleanupLogging(logResult)
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (default ~/.regscan/config.yaml)")
	cmd.PersistentFlags().StringVar(&projectDir, "project-dir", "", "project directory containing .regscan/")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(NewScanCmd(), newConfigCmd(), NewVersionCmd())

	return cmd
}

// loadConfig resolves the effective configuration and installs it as the global config.
// An explicit --config file replaces the global and project files.
func loadConfig(cmd *cobra.Command, configFile, projectDir string, lookupEnv func(string) (string, bool)) error {
	ctx := cmd.Context()

	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		resolved := config.ResolveProjectDir(ctx, projectDir, cwd)
		config.SetResolvedProjectDir(resolved)
		cfg = config.NewWithProjectDir(ctx, resolved)
	}

	if err := cfg.ApplyEnvOverrides(lookupEnv); err != nil {
		return fmt.Errorf("applying environment: %w", err)
	}
	config.SetGlobalConfig(cfg)
	return nil
}

const rootCmdExample = `  # Scan holding registers 0-999 of a TCP device
  regscan scan --host 10.0.0.5

  # Scan coils and holding registers of unit 3 and emit JSON
  regscan scan --host 10.0.0.5 --unit-id 3 --function-codes 1,3 --format json

  # Scan a serial device
  regscan scan --url rtu:///dev/ttyUSB0 --driver goburrow

  # Scan several devices and publish results over MQTT
  regscan scan --target tcp://10.0.0.5:502 --target tcp://10.0.0.6:502 --mqtt-broker tcp://broker:1883

  # Write a default configuration file
  regscan config init`

// newConfigCmd creates the config command group with configuration subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration management commands"}
	cmd.AddCommand(NewConfigInitCmd(), NewConfigShowCmd(), NewConfigValidateCmd())
	return cmd
}
