// cyncbridged is the local controller that impersonates the vendor
// cloud endpoint for a cync-mesh lighting fleet: a TLS device listener,
// a command/mesh engine, and an MQTT bridge for Home Assistant.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags, e.g.:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is where the bridge looks for its YAML config when
// --config is not given.
const defaultConfigPath = "./config.yaml"

// configPathEnvVar lets a deployment override the config path without
// editing the unit file's command line.
const configPathEnvVar = "CYNC_BRIDGE_CONFIG"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cyncbridged",
	Short: "Local bridge for a cync-mesh lighting fleet",
	Long: `cyncbridged impersonates the vendor cloud endpoint on the local
network, bridging mesh devices to MQTT for Home Assistant without a
round trip to the manufacturer's servers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func main() {
	fmt.Printf("cyncbridged %s (%s) built %s\n", version, commit, date)

	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getConfigPath(), "path to config.yaml")
	rootCmd.AddCommand(serveCmd, configCmd, relayTestCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// getConfigPath resolves the config file path: CYNC_BRIDGE_CONFIG
// overrides the default, and --config overrides both.
func getConfigPath() string {
	if v := os.Getenv(configPathEnvVar); v != "" {
		return v
	}
	return defaultConfigPath
}

// startupError carries the exit code for each startup failure class:
// 1 for a bad configuration, 2 for an unrecoverable I/O failure during
// startup.
type startupError struct {
	code int
	err  error
}

func (e *startupError) Error() string { return e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

func configError(err error) error   { return &startupError{code: 1, err: err} }
func startupIOError(err error) error { return &startupError{code: 2, err: err} }

// exitCodeFor maps a run() error to the process exit code. Any error
// that isn't a *startupError (e.g. a runtime component failure after a
// clean start) exits 1, the same as a bad configuration.
func exitCodeFor(err error) int {
	if se, ok := err.(*startupError); ok {
		return se.code
	}
	return 1
}
