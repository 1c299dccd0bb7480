package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/relay/go/cmd/relay/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Global configuration (loaded at init time)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Reliable incremental delivery of generated text",
	Long: `relay persists generated text chunk by chunk and serves it to
viewers over SSE and WebSocket sessions. The log is the source of
truth: viewers can attach late, disconnect, and reconnect without
losing or reordering text.

Commands:
  serve    Run the relay server (chunk log + HTTP transports)
  gen      Start a generation against a running server
  tail     Follow a stream's text to stdout
  version  Show version information

Configuration lives at ~/.relay/config.yaml (override with --config):

  addr: :8080
  data_dir: ~/.relay/data
  queue_size: 64
  reconnect:
    attempts: 5
    backoff_ms: 500

Examples:
  relay serve
  relay gen --text "hello world"
  relay tail 2f1c9c4e-...`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.relay/config.yaml)")
}

// configLoadErr stores the error from config.Load() for deferred reporting.
var configLoadErr error

func initConfig() {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// GetConfig returns the global configuration.
func GetConfig() (*config.Config, error) {
	if configLoadErr != nil {
		return nil, fmt.Errorf("load config: %w", configLoadErr)
	}
	if globalConfig == nil {
		return config.Default(), nil
	}
	return globalConfig, nil
}

// IsVerbose reports whether --verbose was set.
func IsVerbose() bool {
	return verbose
}
