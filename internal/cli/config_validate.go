package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rshade/regscan/internal/config"
)

// NewConfigValidateCmd creates the config validate command for validating configuration.
func NewConfigValidateCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "validate [FILE]",
		Short: "Validate configuration file",
		Long: `Validates a configuration file, or the effective configuration when no file is
given, for syntax and semantic correctness: port and unit id ranges, function
codes, address range, batch and chunk sizes, timeouts, output format, driver
and MQTT QoS.`,
		Example: `  # Validate current configuration
  regscan config validate

  # Validate a specific file and show details
  regscan config validate ./plant.yaml --verbose`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, args, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show detailed validation information")

	return cmd
}

// runConfigValidate executes the configuration validation logic.
func runConfigValidate(cmd *cobra.Command, args []string, verbose bool) error {
	cfg := config.GetGlobalConfig()
	if len(args) == 1 {
		loaded, err := config.Load(args[0])
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cmd.Printf("Configuration is valid\n")

	if verbose {
		printVerboseDetails(cmd, cfg)
	}

	return nil
}

// printVerboseDetails prints detailed configuration information.
func printVerboseDetails(cmd *cobra.Command, cfg *config.Config) {
	cmd.Println()
	cmd.Println("Configuration details:")
	cmd.Printf("  Devices: %v\n", cfg.DeviceURLs())
	cmd.Printf("  Driver: %s\n", cfg.Connection.Driver)
	cmd.Printf("  Function codes: %v\n", cfg.Scan.FunctionCodes)
	cmd.Printf("  Address range: %d-%d\n", cfg.Scan.StartAddress, cfg.Scan.EndAddress)
	cmd.Printf("  Batch size: %d (adaptive: %t)\n", cfg.Scan.BatchSize, cfg.Scan.Adaptive)
	cmd.Printf("  Output format: %s\n", cfg.Output.Format)
	cmd.Printf("  Logging level: %s\n", cfg.Logging.Level)
	if cfg.MQTT.Enabled {
		cmd.Printf("  MQTT broker: %s\n", cfg.MQTT.Broker)
	}
	if cfg.Metrics.Enabled {
		cmd.Printf("  Metrics textfile: %s\n", cfg.Metrics.Textfile)
	}
}
