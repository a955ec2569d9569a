package cli

import (
	"github.com/spf13/cobra"

	"agilewatch/internal/rates"
)

var (
	refreshDay string
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a fetch of one day's rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := rates.ParseBucket(refreshDay)
		if err != nil {
			return err
		}
		return getApp().Refresh(cmd.Context(), day)
	},
}

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "Send today's rates through the configured notification sinks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().NotifyTest(cmd.Context())
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshDay, "day", "today", "Day bucket: today or tomorrow")
}
