package storage

import (
	"time"

	"coco-alerts/internal/models"
)

// HourlyCount is the number of notifications sent in one hour bucket.
type HourlyCount struct {
	Hour  time.Time
	Count int64
}

// coinRow mirrors the coins table; timestamps are free-form text upstream.
type coinRow struct {
	CoinID              string
	Name                string
	Symbol              string
	Price               float64
	MarketCap           float64
	Volume24h           float64
	PriceChange24h      float64
	DeveloperStars      int64
	DeveloperForks      int64
	DeveloperLastUpdate *string
	SocialFollowers     int64
	SocialFirstPostDate *string
	ConsistencyScore    *float64
}

func (r coinRow) snapshot() models.CoinSnapshot {
	return models.CoinSnapshot{
		CoinID:              r.CoinID,
		Name:                r.Name,
		Symbol:              r.Symbol,
		Price:               r.Price,
		MarketCap:           r.MarketCap,
		Volume24h:           r.Volume24h,
		PriceChange24h:      r.PriceChange24h,
		DeveloperStars:      r.DeveloperStars,
		DeveloperForks:      r.DeveloperForks,
		DeveloperLastUpdate: parseText(r.DeveloperLastUpdate),
		SocialFollowers:     r.SocialFollowers,
		SocialFirstPostDate: parseText(r.SocialFirstPostDate),
		ConsistencyScore:    r.ConsistencyScore,
	}
}

func parseText(v *string) *time.Time {
	if v == nil {
		return nil
	}
	return models.ParseTimestamp(*v)
}
