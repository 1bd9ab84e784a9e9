package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relaychat",
	Short: "Realtime chat relay and client",
	Long: `relaychat runs a chat relay and talks to it.

Available commands:
  serve     Run the producer and consumer servers over an in-process broker
  chat      Join a room from the terminal
  health    Check that both relay sides are reachable
  version   Print the version

Settings come from the environment or a .env file (PRODUCER_URL,
CONSUMER_URL, CHAT_ROOM, PRODUCER_ADDR, CONSUMER_ADDR, ...).

Use "relaychat [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
