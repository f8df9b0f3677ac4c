package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/archiegate/guardian/internal/model"
)

var flagEventCount int

func init() {
	eventsCmd.Flags().IntVarP(&flagEventCount, "count", "n", 20, "number of events to show")
	rootCmd.AddCommand(eventsCmd)
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recently ingested events",
	RunE: func(cmd *cobra.Command, args []string) error {
		var events []model.Event
		if err := newClient().get(fmt.Sprintf("/events?n=%d", flagEventCount), &events); err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("no events yet")
			return nil
		}

		for _, ev := range events {
			fmt.Printf("%-14s %-16s %-20s %s\n",
				humanize.Time(ev.Timestamp), ev.Source, ev.Type, ev.Target())
		}
		return nil
	},
}
