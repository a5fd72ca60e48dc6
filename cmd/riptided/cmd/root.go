// Package cmd provides the CLI commands for riptided.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/riptide-ws/riptide/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "riptided",
	Short: "riptided - WebSocket RPC and pub/sub server",
	Long: `riptided serves WebSocket connections that exchange RPC calls and
pub/sub packets over a shared channel and broadcast fabric.

Configuration is loaded from riptide.yaml in the current directory,
$HOME/.riptide/, or /etc/riptide/. Environment variables can override
config values with the RIPTIDE_ prefix, e.g. RIPTIDE_LISTEN=:9090.

Commands:
  serve       Start the server
  hash-token  Generate an argon2id admission token hash
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./riptide.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
