package cli

import (
	"github.com/spf13/cobra"

	"coco-alerts/internal/app"
)

var (
	rankLimit   int
	scoreCoinID string
	askUserID   string
	askQuestion string
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank coins by composite score",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rank(cmd.Context(), cmd.OutOrStdout(), rankLimit)
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Show consistency and health scores for one coin",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Score(cmd.Context(), cmd.OutOrStdout(), scoreCoinID)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask the portfolio advisor a question",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Ask(cmd.Context(), cmd.OutOrStdout(), app.AskOptions{
			UserID:   askUserID,
			Question: askQuestion,
		})
	},
}

func init() {
	rankCmd.Flags().IntVar(&rankLimit, "limit", 25, "Number of coins to display (0 for all)")

	scoreCmd.Flags().StringVar(&scoreCoinID, "coin", "", "Coin id")
	_ = scoreCmd.MarkFlagRequired("coin")

	askCmd.Flags().StringVar(&askUserID, "user", "", "User id charged for the question")
	askCmd.Flags().StringVar(&askQuestion, "question", "", "Question text")
	_ = askCmd.MarkFlagRequired("user")
	_ = askCmd.MarkFlagRequired("question")
}
