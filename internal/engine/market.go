package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"coco-alerts/internal/metrics"
	"coco-alerts/internal/models"
)

// Market-wide classification reasons.
const (
	ReasonTotalCandidates = "total_candidates"
	ReasonPriceDropSpread = "price_drop_spread"
	ReasonRecentVolume    = "recent_log_volume"
)

// MarketEventPolicy holds the market-wide event thresholds.
type MarketEventPolicy struct {
	TotalCandidates     int           `mapstructure:"total_candidates"`
	PriceDropCoins      int           `mapstructure:"price_drop_coins"`
	PriceDropCandidates int           `mapstructure:"price_drop_candidates"`
	RecentWindow        time.Duration `mapstructure:"recent_window"`
	RecentEntries       int           `mapstructure:"recent_entries"`
}

// DefaultMarketEventPolicy returns the stock thresholds.
func DefaultMarketEventPolicy() MarketEventPolicy {
	return MarketEventPolicy{
		TotalCandidates:     50,
		PriceDropCoins:      20,
		PriceDropCandidates: 20,
		RecentWindow:        15 * time.Minute,
		RecentEntries:       30,
	}
}

// MarketClassification is the outcome of classifying one cycle.
type MarketClassification struct {
	MarketWide          bool   `json:"market_wide"`
	Reason              string `json:"reason,omitempty"`
	Total               int    `json:"total_candidates"`
	PriceDropCoins      int    `json:"price_drop_coins"`
	PriceDropCandidates int    `json:"price_drop_candidates"`
	// RecentEntries is -1 when the trailing log count was not consulted or failed.
	RecentEntries int `json:"recent_entries"`
}

// CountCandidates tallies the inputs of the first two rules.
func CountCandidates(cands []models.Candidate) MarketClassification {
	coins := make(map[string]struct{})
	out := MarketClassification{Total: len(cands), RecentEntries: -1}
	for _, c := range cands {
		if c.Type != models.AlertPriceDrop {
			continue
		}
		out.PriceDropCandidates++
		coins[c.CoinID] = struct{}{}
	}
	out.PriceDropCoins = len(coins)
	return out
}

// classifyCounts applies the candidate-count rules, first match wins.
func (p MarketEventPolicy) classifyCounts(m MarketClassification) MarketClassification {
	switch {
	case m.Total >= p.TotalCandidates:
		m.MarketWide, m.Reason = true, ReasonTotalCandidates
	case m.PriceDropCoins >= p.PriceDropCoins && m.PriceDropCandidates >= p.PriceDropCandidates:
		m.MarketWide, m.Reason = true, ReasonPriceDropSpread
	}
	return m
}

// Detector classifies a cycle's candidate set as normal or market-wide.
type Detector struct {
	log    LogReader
	policy MarketEventPolicy
	logger zerolog.Logger
}

// NewDetector constructs a market-wide event detector.
func NewDetector(log LogReader, policy MarketEventPolicy, logger zerolog.Logger) *Detector {
	return &Detector{
		log:    log,
		policy: policy,
		logger: logger.With().Str("component", "market_detector").Logger(),
	}
}

// Classify inspects the whole cycle. The trailing log count is consulted
// only when the candidate rules do not match; a failing count is treated as
// not met.
func (d *Detector) Classify(ctx context.Context, cands []models.Candidate, now time.Time) MarketClassification {
	m := d.policy.classifyCounts(CountCandidates(cands))

	if !m.MarketWide && d.log != nil {
		recent, err := d.log.CountNotificationLog(ctx, models.LogFilter{Since: now.Add(-d.policy.RecentWindow)})
		if err != nil {
			d.logger.Warn().Err(err).Msg("trailing notification count failed, skipping volume rule")
		} else {
			m.RecentEntries = recent
			if recent >= d.policy.RecentEntries {
				m.MarketWide, m.Reason = true, ReasonRecentVolume
			}
		}
	}

	if m.MarketWide {
		metrics.MarketWideEvents.WithLabelValues(m.Reason).Inc()
		d.logger.Warn().
			Str("reason", m.Reason).
			Int("candidates", m.Total).
			Int("price_drop_coins", m.PriceDropCoins).
			Int("recent_entries", m.RecentEntries).
			Msg("market-wide event detected")
	}
	return m
}
