package cli

import (
	"github.com/spf13/cobra"

	"agilewatch/internal/app"
)

var (
	showSlots bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the current rate readout",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			Slots: showSlots,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().BoolVar(&showSlots, "slots", false, "Also list every slot for today and tomorrow")
}
