package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rshade/regscan/internal/config"
)

const maskedSecret = "********"

// NewConfigShowCmd creates the config show command, which prints the effective
// configuration after files and environment are applied.
func NewConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *config.GetGlobalConfig()
			if cfg.MQTT.Password != "" {
				cfg.MQTT.Password = maskedSecret
			}

			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return fmt.Errorf("marshalling configuration: %w", err)
			}
			if path := cfg.ConfigPath(); path != "" {
				cmd.Printf("# %s\n", path)
			}
			cmd.Print(string(data))
			return nil
		},
	}
}
