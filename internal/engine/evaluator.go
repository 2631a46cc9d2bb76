package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coco-alerts/internal/models"
)

// Evaluator checks one alert definition against a fresh coin snapshot.
type Evaluator struct {
	reports ReportChecker
	logger  zerolog.Logger
}

// NewEvaluator constructs an evaluator. A nil ReportChecker disables
// migration and delisting alerts.
func NewEvaluator(reports ReportChecker, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		reports: reports,
		logger:  logger.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate returns a candidate when the alert condition holds, or nil when it
// does not. snap must already carry its health score and, if known, its
// consistency score.
func (e *Evaluator) Evaluate(ctx context.Context, alert models.AlertDefinition, snap models.CoinSnapshot) (*models.Candidate, error) {
	var (
		current float64
		message string
	)
	symbol := snap.DisplaySymbol()
	threshold := alert.ThresholdValue

	switch alert.Type {
	case models.AlertHealthScore:
		current = snap.HealthScore
		if !(current < threshold) {
			return nil, nil
		}
		message = fmt.Sprintf("%s health score dropped to %s (threshold %s)", symbol, formatValue(current), formatValue(threshold))

	case models.AlertConsistencyScore:
		if snap.ConsistencyScore == nil {
			return nil, nil
		}
		current = *snap.ConsistencyScore
		if !(current < threshold) {
			return nil, nil
		}
		message = fmt.Sprintf("%s consistency score dropped to %s (threshold %s)", symbol, formatValue(current), formatValue(threshold))

	case models.AlertPriceDrop:
		change := snap.PriceChange24h
		current = math.Abs(change)
		if !(change < 0 && current > threshold) {
			return nil, nil
		}
		message = fmt.Sprintf("%s is down %s%% in the last 24h (threshold %s%%)", symbol, formatValue(current), formatValue(threshold))

	case models.AlertMigration, models.AlertDelisting:
		if e.reports == nil {
			return nil, nil
		}
		found, err := e.reports.HasVerifiedReport(ctx, alert.CoinID, alert.Type)
		if err != nil {
			return nil, fmt.Errorf("lookup %s report for %s: %w", alert.Type, alert.CoinID, err)
		}
		if !found {
			return nil, nil
		}
		current = 1
		message = fmt.Sprintf("%s has a community-verified %s report", symbol, alert.Type)

	case models.AlertPortfolioSummary, models.AlertMarketSummary:
		return nil, fmt.Errorf("%w: %s is not an alert definition type", ErrUnknownAlertType, alert.Type)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlertType, alert.Type)
	}

	return &models.Candidate{
		UserID:         alert.UserID,
		CoinID:         alert.CoinID,
		CoinName:       snap.Name,
		CoinSymbol:     symbol,
		Type:           alert.Type,
		CurrentValue:   current,
		ThresholdValue: threshold,
		Message:        message,
	}, nil
}

// formatValue renders v with at most two decimals and no trailing zeros.
func formatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return decimal.NewFromFloat(v).Round(2).String()
}
