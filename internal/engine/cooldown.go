package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"coco-alerts/internal/metrics"
	"coco-alerts/internal/models"
)

// CooldownPolicy holds the per-type re-notification windows.
type CooldownPolicy struct {
	HealthScore      time.Duration `mapstructure:"health_score"`
	ConsistencyScore time.Duration `mapstructure:"consistency_score"`
	PriceDrop        time.Duration `mapstructure:"price_drop"`
	Migration        time.Duration `mapstructure:"migration"`
	Delisting        time.Duration `mapstructure:"delisting"`
}

// DefaultCooldownPolicy returns the stock cooldowns.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{
		HealthScore:      time.Hour,
		ConsistencyScore: time.Hour,
		PriceDrop:        2 * time.Hour,
		Migration:        48 * time.Hour,
		Delisting:        48 * time.Hour,
	}
}

// For resolves the cooldown for t. An enabled snooze replaces the default for
// score alerts.
func (p CooldownPolicy) For(t models.AlertType, pref models.NotificationPreference) time.Duration {
	switch t {
	case models.AlertHealthScore, models.AlertConsistencyScore:
		if pref.SnoozeEnabled && pref.SnoozeDurationHours > 0 {
			return time.Duration(pref.SnoozeDurationHours * float64(time.Hour))
		}
		if t == models.AlertHealthScore {
			return p.HealthScore
		}
		return p.ConsistencyScore
	case models.AlertPriceDrop:
		return p.PriceDrop
	case models.AlertMigration:
		return p.Migration
	case models.AlertDelisting:
		return p.Delisting
	case models.AlertPortfolioSummary, models.AlertMarketSummary:
		return 0
	}
	return 0
}

// Gate suppresses candidates whose (user, coin, type) triple was notified
// within its cooldown window.
type Gate struct {
	log    LogReader
	policy CooldownPolicy
	logger zerolog.Logger
}

// NewGate constructs a cooldown gate over the notification log.
func NewGate(log LogReader, policy CooldownPolicy, logger zerolog.Logger) *Gate {
	return &Gate{
		log:    log,
		policy: policy,
		logger: logger.With().Str("component", "cooldown_gate").Logger(),
	}
}

// Allow reports whether c may proceed at now. Log lookup failures let the
// candidate through.
func (g *Gate) Allow(ctx context.Context, c models.Candidate, pref models.NotificationPreference, now time.Time) bool {
	cooldown := g.policy.For(c.Type, pref)
	if cooldown <= 0 || g.log == nil {
		return true
	}

	entries, err := g.log.QueryNotificationLog(ctx, models.LogFilter{
		UserID: c.UserID,
		CoinID: c.CoinID,
		Type:   c.Type,
		Limit:  1,
	})
	if err != nil {
		g.logger.Warn().Err(err).
			Str("user_id", c.UserID).
			Str("coin_id", c.CoinID).
			Str("alert_type", c.Type.String()).
			Msg("notification log lookup failed, treating as no cooldown")
		return true
	}
	if len(entries) == 0 {
		return true
	}

	elapsed := now.Sub(entries[0].SentAt)
	if elapsed < cooldown {
		metrics.SuppressedTotal.WithLabelValues("cooldown").Inc()
		g.logger.Debug().
			Str("user_id", c.UserID).
			Str("coin_id", c.CoinID).
			Str("alert_type", c.Type.String()).
			Dur("elapsed", elapsed).
			Dur("cooldown", cooldown).
			Msg("candidate suppressed by cooldown")
		return false
	}
	return true
}
