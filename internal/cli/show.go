package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"coco-alerts/internal/app"
)

var (
	showLimit  int
	showUserID string
	showCoinID string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent notification log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			UserID: showUserID,
			CoinID: showCoinID,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of entries to display")
	showCmd.Flags().StringVar(&showUserID, "user", "", "Only entries for this user")
	showCmd.Flags().StringVar(&showCoinID, "coin", "", "Only entries for this coin")
}
