package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration file utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file without starting the bridge",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return configError(fmt.Errorf("%s: %w", configPath, err))
	}
	fmt.Printf("%s: OK (%d devices, %d groups, bridge pool cap %d)\n",
		configPath, len(cfg.Devices), len(cfg.Groups), cfg.Server.BridgePoolCap)
	return nil
}
