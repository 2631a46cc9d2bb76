package models

import (
	"strings"
	"time"
)

// CoinSnapshot is the current-state view of a coin for one evaluation cycle.
type CoinSnapshot struct {
	CoinID              string     `json:"coin_id"`
	Name                string     `json:"name"`
	Symbol              string     `json:"symbol"`
	Price               float64    `json:"price"`
	MarketCap           float64    `json:"market_cap"`
	Volume24h           float64    `json:"volume_24h"`
	PriceChange24h      float64    `json:"price_change_24h"`
	DeveloperStars      int64      `json:"developer_stars"`
	DeveloperForks      int64      `json:"developer_forks"`
	DeveloperLastUpdate *time.Time `json:"developer_last_update,omitempty"`
	SocialFollowers     int64      `json:"social_followers"`
	SocialFirstPostDate *time.Time `json:"social_first_post_date,omitempty"`
	ConsistencyScore    *float64   `json:"consistency_score,omitempty"`

	// HealthScore is attached by the orchestrator before evaluation.
	HealthScore float64 `json:"health_score"`
}

// DisplaySymbol returns the upper-cased ticker, falling back to the coin id.
func (s CoinSnapshot) DisplaySymbol() string {
	if s.Symbol != "" {
		return strings.ToUpper(s.Symbol)
	}
	return strings.ToUpper(s.CoinID)
}

// ActivitySample is one daily observation of a coin's activity timestamps.
type ActivitySample struct {
	CoinID              string
	Date                time.Time
	DeveloperLastUpdate *time.Time
	SocialFirstPostDate *time.Time
}

// CoinReport is a community-submitted migration or delisting report.
type CoinReport struct {
	ID        int64
	CoinID    string
	Type      AlertType
	Verified  bool
	Archived  bool
	CreatedAt time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07",
	"2006-01-02",
}

// ParseTimestamp leniently parses an upstream timestamp. Malformed, empty or
// zero values yield nil.
func ParseTimestamp(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			if t.IsZero() {
				return nil
			}
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
