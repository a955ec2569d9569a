package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"agilewatch/internal/app"
	"agilewatch/internal/rates"
)

var (
	cheapestDay         string
	cheapestNumSlots    int
	cheapestConsecutive bool
	cheapestExpensive   bool
	cheapestMinutes     int
)

var cheapestCmd = &cobra.Command{
	Use:   "cheapest",
	Short: "Rank the cheapest (or most expensive) slots of a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := rates.ParseBucket(cheapestDay)
		if err != nil {
			return err
		}
		if cheapestNumSlots <= 0 {
			return fmt.Errorf("--num-slots must be greater than zero")
		}
		if cheapestMinutes < 0 {
			return fmt.Errorf("--minutes must not be negative")
		}

		opts := app.CheapestOptions{
			Day:         day,
			NumSlots:    cheapestNumSlots,
			Consecutive: cheapestConsecutive,
			Expensive:   cheapestExpensive,
			Minutes:     cheapestMinutes,
		}

		return getApp().Cheapest(cmd.Context(), opts)
	},
}

func init() {
	cheapestCmd.Flags().StringVar(&cheapestDay, "day", "today", "Day bucket: today or tomorrow")
	cheapestCmd.Flags().IntVar(&cheapestNumSlots, "num-slots", 4, "Number of slots to select")
	cheapestCmd.Flags().BoolVar(&cheapestConsecutive, "consecutive", false, "Select one adjacent run instead of independent slots")
	cheapestCmd.Flags().BoolVar(&cheapestExpensive, "expensive", false, "Rank the most expensive slots instead")
	cheapestCmd.Flags().IntVar(&cheapestMinutes, "minutes", 0, "Also report the cheapest window of this many minutes")
}
