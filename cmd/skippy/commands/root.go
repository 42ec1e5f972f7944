// Package commands implements the skippy CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "skippy",
		Short: "Skippy - personal assistant daemon",
		Long: `Skippy is a long-running personal assistant bridging Discord and an
Ollama backend with an agentic tool loop, persistent memory and a
job scheduler.

Examples:
  skippy serve
  skippy prompt "what's on my calendar today?"
  skippy send --channel general "deploy finished"`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newPromptCmd(),
		newSendCmd(),
	)

	return rootCmd
}
