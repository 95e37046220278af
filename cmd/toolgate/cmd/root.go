// Package cmd provides the CLI commands for toolgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agenticmail/toolgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "toolgate - tool execution security gateway for agents",
	Long: `toolgate is a security gateway for autonomous agent tool calls.

Every invocation runs through a pipeline of validators (path sandbox,
SSRF guard, command sanitizer), per-agent rate limiting, a per-tool
circuit breaker, and redacting audit logging.

Quick start:
  1. Create a config file: toolgate.yaml
  2. Run: toolgate serve

Configuration:
  Config is loaded from toolgate.yaml in the current directory,
  $HOME/.toolgate/, or /etc/toolgate/.

  Environment variables can override config values with the TOOLGATE_ prefix.
  Example: TOOLGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the gateway server
  check       Evaluate a path, URL, or command against the default policy
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
