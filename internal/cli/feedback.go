package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archiegate/guardian/internal/model"
)

var (
	flagFeedbackSource string
	flagFeedbackType   string
)

func init() {
	feedbackCmd.Flags().StringVar(&flagFeedbackSource, "source", "", "event source the verdict applies to")
	feedbackCmd.Flags().StringVar(&flagFeedbackType, "type", "", "event type the verdict applies to")
	rootCmd.AddCommand(feedbackCmd)
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <event-id> <verdict>",
	Short: "Record a verdict on an assessment (false_positive|confirmed_threat|missed_details)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		verdict, err := model.ParseVerdict(args[1])
		if err != nil {
			return err
		}
		fb := model.FeedbackRecord{
			EventID: args[0],
			Source:  flagFeedbackSource,
			Type:    flagFeedbackType,
			Verdict: verdict,
		}
		if err := newClient().post("/feedback", fb, nil); err != nil {
			return err
		}
		fmt.Printf("feedback recorded for %s\n", args[0])
		return nil
	},
}
