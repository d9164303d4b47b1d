// Command execserver serves a persistent Python interpreter over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/execserver/internal/config"
)

var (
	configFlag string
	portFlag   int
)

var rootCmd = &cobra.Command{
	Use:   "execserver",
	Short: "Execute Python code in a persistent interpreter over HTTP",
	Long: `execserver runs submitted Python code in one long-lived interpreter whose
namespace survives between requests, and returns what the code printed and
plotted.

Without a subcommand it serves the API, same as "execserver serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ./execserver.yaml or $HOME/.execserver/execserver.yaml)")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
}

// loadConfig applies command-line overrides on top of config.Load.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
