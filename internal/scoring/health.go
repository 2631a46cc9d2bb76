package scoring

import (
	"math"
	"time"

	"coco-alerts/internal/models"
)

// HealthParams tunes the per-coin health score.
type HealthParams struct {
	VolumeWeight       float64 `mapstructure:"volume_weight"`
	SocialWeight       float64 `mapstructure:"social_weight"`
	DeveloperWeight    float64 `mapstructure:"developer_weight"`
	TurnoverSaturation float64 `mapstructure:"turnover_saturation"`
	FollowerSaturation float64 `mapstructure:"follower_saturation"`
	StarForkSaturation float64 `mapstructure:"star_fork_saturation"`
	SocialHalfLifeDays float64 `mapstructure:"social_half_life_days"`
	DevHalfLifeDays    float64 `mapstructure:"dev_half_life_days"`
}

// DefaultHealthParams returns the production tuning.
func DefaultHealthParams() HealthParams {
	return HealthParams{
		VolumeWeight:       0.3,
		SocialWeight:       0.35,
		DeveloperWeight:    0.35,
		TurnoverSaturation: 0.25,
		FollowerSaturation: 1_000_000,
		StarForkSaturation: 20_000,
		SocialHalfLifeDays: 7,
		DevHalfLifeDays:    30,
	}
}

// HealthBreakdown holds the normalised components behind a health score.
type HealthBreakdown struct {
	Trading   float64 `json:"trading"`
	Social    float64 `json:"social"`
	Developer float64 `json:"developer"`
	Score     float64 `json:"health_score"`
}

// Health derives the 0-100 health score from a snapshot.
func Health(s models.CoinSnapshot, now time.Time, p HealthParams) HealthBreakdown {
	trading := 0.0
	if s.MarketCap > 0 && p.TurnoverSaturation > 0 {
		trading = math.Min(1, (s.Volume24h/s.MarketCap)/p.TurnoverSaturation)
	}

	social := logScale(float64(s.SocialFollowers), p.FollowerSaturation) *
		decay(s.SocialFirstPostDate, now, p.SocialHalfLifeDays)

	developer := logScale(float64(s.DeveloperStars+s.DeveloperForks), p.StarForkSaturation) *
		decay(s.DeveloperLastUpdate, now, p.DevHalfLifeDays)

	trading, social, developer = safe(trading), safe(social), safe(developer)

	totalWeight := p.VolumeWeight + p.SocialWeight + p.DeveloperWeight
	score := 0.0
	if totalWeight > 0 {
		score = 100 * (p.VolumeWeight*trading + p.SocialWeight*social + p.DeveloperWeight*developer) / totalWeight
	}

	return HealthBreakdown{
		Trading:   trading,
		Social:    social,
		Developer: developer,
		Score:     round1(clamp(score, 0, 100)),
	}
}

func logScale(v, saturation float64) float64 {
	if v <= 0 || saturation <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(1+v)/math.Log10(1+saturation))
}

// decay halves the weight of an activity signal every halfLife days. Missing
// timestamps weigh nothing.
func decay(ts *time.Time, now time.Time, halfLife float64) float64 {
	if ts == nil || ts.IsZero() || halfLife <= 0 {
		return 0
	}
	days := math.Max(0, now.Sub(*ts).Hours()/24)
	return math.Exp(-math.Ln2 * days / halfLife)
}
