package cmd

import (
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/msto63/telshell/internal/tui/console"
)

var (
	consoleNetwork string
	consoleAddress string
	consolePath    string
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open an interactive console to a shell server",
	Long: `Opens a terminal client for a telshell endpoint.

Examples:
  telshell console                                  # TCP endpoint from config
  telshell console --address 192.168.4.1:23         # any telnet-style shell
  telshell console --network websocket              # WebSocket endpoint from config`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&consoleNetwork, "network", "tcp", "tcp or websocket")
	consoleCmd.Flags().StringVar(&consoleAddress, "address", "", "host:port or ws:// URL (default: from config)")
	consoleCmd.Flags().StringVar(&consolePath, "path", "", "websocket path (default: from config)")
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg := console.DefaultConfig()
	cfg.Network = consoleNetwork
	cfg.Address = consoleAddress
	cfg.Path = consolePath

	if cfg.Address == "" || cfg.Path == "" {
		appCfg, err := loadConfig()
		if err != nil {
			printError("config not loaded", err)
			return err
		}
		if cfg.Address == "" {
			if cfg.Network == "websocket" || cfg.Network == "ws" {
				cfg.Address = net.JoinHostPort(dialHost(appCfg.WebSocket.Host), strconv.Itoa(appCfg.WebSocket.Port))
			} else {
				cfg.Address = net.JoinHostPort(dialHost(appCfg.Shell.Host), strconv.Itoa(appCfg.Shell.Port))
			}
		}
		if cfg.Path == "" {
			cfg.Path = appCfg.WebSocket.Path
		}
	}

	return console.Run(cfg)
}
