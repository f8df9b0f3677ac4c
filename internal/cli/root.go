// Package cli implements the guardian command tree. `guardian run` is the
// daemon; every other command is a thin client of its control API.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Host security monitor with human-gated response",
	Long: "Guardian watches files, processes, and network connections, scores what it\n" +
		"sees, and responds only within the permission level the operator granted.\n" +
		"Anything destructive above that level asks first.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.guardian/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "127.0.0.1:8440", "control API address of a running daemon")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
