package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"coco-alerts/internal/scoring"
)

// Rank prints the composite ranking of every tracked coin.
func (a *App) Rank(ctx context.Context, out io.Writer, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	coins, err := store.ListCoinSnapshots(ctx)
	if err != nil {
		return err
	}

	ranked := scoring.Composite(coins, time.Now().UTC(), a.Config.Scoring.Composite)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	if len(ranked) == 0 {
		fmt.Fprintln(out, "no coins found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tSymbol\tCategory\tComposite\tSocial\tDeveloper\tUndervalued\tRecency")
	for i, r := range ranked {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, r.Symbol, r.Category,
			oneDP(r.Composite), oneDP(r.SocialMomentum), oneDP(r.DeveloperActivity),
			oneDP(r.Undervaluation), oneDP(r.Recency),
		)
	}
	return writer.Flush()
}

// Score prints consistency and health breakdowns for one coin.
func (a *App) Score(ctx context.Context, out io.Writer, coinID string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	snap, err := store.FetchCoinSnapshot(ctx, coinID)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("coin %q not found", coinID)
	}

	now := time.Now().UTC()
	params := a.Config.Scoring.Consistency
	samples, err := store.ListActivitySamples(ctx, coinID, now.AddDate(0, 0, -params.LookbackDays))
	if err != nil {
		return err
	}

	consistency := scoring.Consistency(samples, now, params)
	health := scoring.Health(*snap, now, a.Config.Scoring.Health)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Coin\t%s (%s)\n", snap.DisplaySymbol(), snap.CoinID)
	fmt.Fprintf(writer, "Samples\t%d in %d days\n", len(samples), params.LookbackDays)
	fmt.Fprintf(writer, "Developer\tfreq=%d recency=%s score=%s\n", consistency.DeveloperFrequency, oneDP(consistency.DeveloperRecency), oneDP(consistency.DeveloperScore))
	fmt.Fprintf(writer, "Social\tfreq=%d recency=%s score=%s\n", consistency.SocialFrequency, oneDP(consistency.SocialRecency), oneDP(consistency.SocialScore))
	fmt.Fprintf(writer, "Consistency\t%s\n", oneDP(consistency.ConsistencyScore))
	fmt.Fprintf(writer, "Health\t%s (trading=%s social=%s developer=%s)\n",
		oneDP(health.Score), oneDP(health.Trading), oneDP(health.Social), oneDP(health.Developer))
	return writer.Flush()
}

func oneDP(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(1)
}
