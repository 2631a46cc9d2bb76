package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coco-alerts/internal/metrics"
	"coco-alerts/internal/models"
)

// DeliveryPolicy bounds how many notifications a user receives.
type DeliveryPolicy struct {
	// MaxPerHour applies when the user's preference carries no limit.
	MaxPerHour     int           `mapstructure:"max_per_hour"`
	RateWindow     time.Duration `mapstructure:"rate_window"`
	BatchThreshold int           `mapstructure:"batch_threshold"`
}

// DefaultDeliveryPolicy returns the stock delivery limits.
func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		MaxPerHour:     10,
		RateWindow:     time.Hour,
		BatchThreshold: 5,
	}
}

// Batcher turns one user's surviving candidates into the notifications to send.
type Batcher struct {
	log    LogReader
	policy DeliveryPolicy
	logger zerolog.Logger
}

// NewBatcher constructs a delivery batcher.
func NewBatcher(log LogReader, policy DeliveryPolicy, logger zerolog.Logger) *Batcher {
	return &Batcher{
		log:    log,
		policy: policy,
		logger: logger.With().Str("component", "batcher").Logger(),
	}
}

// Plan applies the market-wide override, the preference filter, the hourly
// rate limit and portfolio batching, in that order.
func (b *Batcher) Plan(ctx context.Context, userID string, cands []models.Candidate, pref models.NotificationPreference, marketWide bool, now time.Time) []models.Candidate {
	if len(cands) == 0 {
		return nil
	}
	log := b.logger.With().Str("user_id", userID).Logger()

	if marketWide {
		critical := make([]models.Candidate, 0, len(cands))
		for _, c := range cands {
			if c.Type == models.AlertMigration || c.Type == models.AlertDelisting {
				critical = append(critical, c)
			}
		}
		if len(critical) > 0 {
			metrics.SuppressedTotal.WithLabelValues("market_wide").Add(float64(len(cands) - len(critical)))
			cands = critical
		} else {
			metrics.SuppressedTotal.WithLabelValues("market_wide").Add(float64(len(cands)))
			cands = []models.Candidate{MarketSummary(userID, cands)}
		}
	}

	allowed := make([]models.Candidate, 0, len(cands))
	for _, c := range cands {
		if pref.Allows(c.Type) {
			allowed = append(allowed, c)
			continue
		}
		metrics.SuppressedTotal.WithLabelValues("preference").Inc()
	}
	if len(allowed) == 0 {
		return nil
	}

	limit := pref.MaxNotificationsPerHour
	if limit <= 0 {
		limit = b.policy.MaxPerHour
	}
	sent := 0
	if b.log != nil {
		n, err := b.log.CountNotificationLog(ctx, models.LogFilter{UserID: userID, Since: now.Add(-b.policy.RateWindow)})
		if err != nil {
			log.Warn().Err(err).Msg("hourly notification count failed, assuming none sent")
		} else {
			sent = n
		}
	}
	remaining := limit - sent
	if remaining <= 0 {
		metrics.SuppressedTotal.WithLabelValues("rate_limit").Add(float64(len(allowed)))
		log.Debug().Int("sent", sent).Int("limit", limit).Msg("hourly limit reached")
		return nil
	}

	planned := SortByPriority(allowed)
	if len(planned) > remaining {
		metrics.SuppressedTotal.WithLabelValues("rate_limit").Add(float64(len(planned) - remaining))
		planned = planned[:remaining]
	}

	if pref.BatchPortfolioAlerts && b.policy.BatchThreshold > 0 && len(planned) >= b.policy.BatchThreshold {
		log.Debug().Int("alerts", len(planned)).Msg("collapsing alerts into portfolio summary")
		return []models.Candidate{PortfolioSummary(userID, planned)}
	}
	return planned
}

// SortByPriority orders candidates by severity, then by larger threshold
// deviation. The input slice is not modified.
func SortByPriority(cands []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Type.Severity(), out[j].Type.Severity()
		if si != sj {
			return si < sj
		}
		return out[i].Deviation() > out[j].Deviation()
	})
	return out
}

var summaryCategories = []string{"critical", "important", "info"}

// MarketSummary replaces a user's alerts during a market-wide event. It
// reports affected coins per category.
func MarketSummary(userID string, cands []models.Candidate) models.Candidate {
	coins := make(map[string]map[string]struct{})
	all := make(map[string]struct{})
	for _, c := range cands {
		cat := c.Type.Category()
		if coins[cat] == nil {
			coins[cat] = make(map[string]struct{})
		}
		coins[cat][c.CoinID] = struct{}{}
		all[c.CoinID] = struct{}{}
	}

	var parts []string
	for _, cat := range summaryCategories {
		if n := len(coins[cat]); n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", cat, n))
		}
	}

	return models.Candidate{
		UserID:       userID,
		CoinID:       models.MarketCoinID,
		CoinName:     "Market",
		CoinSymbol:   "MARKET",
		Type:         models.AlertMarketSummary,
		CurrentValue: float64(len(all)),
		Message: fmt.Sprintf("Market-wide event: %d of your coins triggered alerts (%s). Individual alerts are paused until conditions settle.",
			len(all), strings.Join(parts, ", ")),
	}
}

// PortfolioSummary collapses many alerts into one notification counting
// alerts per severity category.
func PortfolioSummary(userID string, cands []models.Candidate) models.Candidate {
	counts := make(map[string]int)
	symbols := make([]string, 0, len(cands))
	seen := make(map[string]struct{})
	for _, c := range cands {
		counts[c.Type.Category()]++
		if _, ok := seen[c.CoinSymbol]; ok {
			continue
		}
		seen[c.CoinSymbol] = struct{}{}
		symbols = append(symbols, c.CoinSymbol)
	}

	var parts []string
	for _, cat := range summaryCategories {
		if n := counts[cat]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", cat, n))
		}
	}

	return models.Candidate{
		UserID:       userID,
		CoinID:       models.PortfolioCoinID,
		CoinName:     "Portfolio",
		CoinSymbol:   "PORTFOLIO",
		Type:         models.AlertPortfolioSummary,
		CurrentValue: float64(len(cands)),
		Message: fmt.Sprintf("Portfolio summary: %d alerts (%s) for %s",
			len(cands), strings.Join(parts, ", "), strings.Join(symbols, ", ")),
	}
}
