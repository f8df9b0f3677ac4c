package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagLogCount int

func init() {
	logsCmd.Flags().IntVarP(&flagLogCount, "count", "n", 50, "number of lines to show")
	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the tail of the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		var lines []string
		if err := newClient().get(fmt.Sprintf("/logs?n=%d", flagLogCount), &lines); err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	},
}
