package runtime

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomsearch/loom/pkg/config"
)

// ResolveConfig builds the effective configuration for a command,
// binding the named registry flags into the viper precedence chain.
func ResolveConfig(cmd *cobra.Command, flagKeys []string) (*config.Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, fmt.Errorf("initializing config: %w", err)
	}

	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)
	return config.FromViper(v), nil
}

// Debug reads the persistent debug flag.
func Debug(cmd *cobra.Command) bool {
	debug, _ := cmd.Flags().GetBool("debug")
	return debug
}
