package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msto63/telshell/pkg/core/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "telshell",
	Short: "telshell - line-oriented command shell server",
	Long: `telshell serves a small command shell to several clients at once.

Clients connect over TCP (telnet, nc) or WebSocket, get a banner and a
prompt, and run registered commands line by line.

Commands:
  serve    - run the shell server
  console  - interactive client for a shell endpoint
  status   - query the admin health endpoint
  audit    - inspect the session audit trail
  version  - print build information`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $TELSHELL_CONFIG or ./configs/telshell.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads --config, or the default locations when it is unset
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	return config.LoadFromEnv()
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}

// dialHost turns a bind address like 0.0.0.0 into one a client can reach
func dialHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::":
		return "localhost"
	default:
		return host
	}
}
