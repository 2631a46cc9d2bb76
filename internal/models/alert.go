package models

import (
	"fmt"
	"time"
)

// AlertType identifies what a notification is about.
type AlertType string

const (
	AlertHealthScore      AlertType = "health_score"
	AlertConsistencyScore AlertType = "consistency_score"
	AlertPriceDrop        AlertType = "price_drop"
	AlertMigration        AlertType = "migration"
	AlertDelisting        AlertType = "delisting"

	// Synthetic kinds emitted by the batcher. Users cannot define alerts of these types.
	AlertPortfolioSummary AlertType = "portfolio_summary"
	AlertMarketSummary    AlertType = "market_summary"
)

// Coin ids carried by synthetic summary notifications.
const (
	PortfolioCoinID = "portfolio"
	MarketCoinID    = "market"
)

// DefinitionTypes lists the alert types a user may subscribe to.
var DefinitionTypes = []AlertType{
	AlertDelisting,
	AlertMigration,
	AlertHealthScore,
	AlertPriceDrop,
	AlertConsistencyScore,
}

// ParseAlertType converts a stored value into a definition type.
func ParseAlertType(v string) (AlertType, error) {
	t := AlertType(v)
	if !t.IsDefinitionType() {
		return "", fmt.Errorf("unknown alert type %q", v)
	}
	return t, nil
}

// IsDefinitionType reports whether t may appear on an AlertDefinition.
func (t AlertType) IsDefinitionType() bool {
	switch t {
	case AlertHealthScore, AlertConsistencyScore, AlertPriceDrop, AlertMigration, AlertDelisting:
		return true
	case AlertPortfolioSummary, AlertMarketSummary:
		return false
	}
	return false
}

// IsSummary reports whether t is a synthetic batcher notification.
func (t AlertType) IsSummary() bool {
	return t == AlertPortfolioSummary || t == AlertMarketSummary
}

// Severity ranks notification kinds; lower is more severe.
func (t AlertType) Severity() int {
	switch t {
	case AlertMarketSummary, AlertPortfolioSummary:
		return 0
	case AlertDelisting:
		return 1
	case AlertMigration:
		return 2
	case AlertHealthScore:
		return 3
	case AlertPriceDrop:
		return 4
	case AlertConsistencyScore:
		return 5
	}
	return 99
}

// Category groups alert types for summaries.
func (t AlertType) Category() string {
	switch t {
	case AlertDelisting, AlertMigration:
		return "critical"
	case AlertHealthScore, AlertPriceDrop:
		return "important"
	case AlertConsistencyScore:
		return "info"
	case AlertPortfolioSummary, AlertMarketSummary:
		return "summary"
	}
	return "unknown"
}

func (t AlertType) String() string { return string(t) }

// AlertDefinition is a user's standing alert on one coin.
type AlertDefinition struct {
	ID             int64
	UserID         string
	CoinID         string
	Type           AlertType
	ThresholdValue float64
	IsActive       bool
	CreatedAt      time.Time
}

// Candidate is an in-memory decision that a user should be alerted.
type Candidate struct {
	UserID         string    `json:"user_id"`
	CoinID         string    `json:"coin_id"`
	CoinName       string    `json:"coin_name"`
	CoinSymbol     string    `json:"coin_symbol"`
	Type           AlertType `json:"alert_type"`
	CurrentValue   float64   `json:"current_value"`
	ThresholdValue float64   `json:"threshold_value"`
	Message        string    `json:"message"`
}

// Key identifies the (user, coin, alert type) triple a cooldown applies to.
func (c Candidate) Key() string {
	return c.UserID + "|" + c.CoinID + "|" + string(c.Type)
}

// Deviation is the absolute distance from the threshold.
func (c Candidate) Deviation() float64 {
	d := c.CurrentValue - c.ThresholdValue
	if d < 0 {
		return -d
	}
	return d
}
