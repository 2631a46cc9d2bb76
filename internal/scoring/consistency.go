package scoring

import (
	"math"
	"time"

	"coco-alerts/internal/models"
)

const day = 24 * time.Hour

// ConsistencyParams tunes the consistency scorer.
type ConsistencyParams struct {
	LookbackDays          int     `mapstructure:"lookback_days"`
	DeveloperFreqBaseline float64 `mapstructure:"developer_freq_baseline"`
	SocialFreqBaseline    float64 `mapstructure:"social_freq_baseline"`
	DeveloperStalenessMax float64 `mapstructure:"developer_staleness_max"`
	SocialStalenessMax    float64 `mapstructure:"social_staleness_max"`
	DeveloperWeight       float64 `mapstructure:"developer_weight"`
	SocialWeight          float64 `mapstructure:"social_weight"`
	GlobalBlend           float64 `mapstructure:"global_blend"`
}

// DefaultConsistencyParams returns the production tuning.
func DefaultConsistencyParams() ConsistencyParams {
	return ConsistencyParams{
		LookbackDays:          30,
		DeveloperFreqBaseline: 8,
		SocialFreqBaseline:    20,
		DeveloperStalenessMax: 30,
		SocialStalenessMax:    14,
		DeveloperWeight:       0.6,
		SocialWeight:          0.5,
		GlobalBlend:           0.5,
	}
}

// ConsistencyResult is the scorer's breakdown. Recency values are days since
// the latest activity on the channel.
type ConsistencyResult struct {
	DeveloperFrequency int     `json:"developer_frequency"`
	SocialFrequency    int     `json:"social_frequency"`
	DeveloperRecency   float64 `json:"developer_recency"`
	SocialRecency      float64 `json:"social_recency"`
	DeveloperScore     float64 `json:"developer_score"`
	SocialScore        float64 `json:"social_score"`
	ConsistencyScore   float64 `json:"consistency_score"`
}

// Consistency scores how regularly a coin's developers and community post
// updates within the lookback window ending at now. An empty window scores
// zero on every output.
func Consistency(samples []models.ActivitySample, now time.Time, p ConsistencyParams) ConsistencyResult {
	start := now.Add(-time.Duration(p.LookbackDays) * day)

	dev := newChannel()
	social := newChannel()
	inWindow := 0
	for _, s := range samples {
		if s.Date.IsZero() || s.Date.Before(start) {
			continue
		}
		inWindow++
		dev.observe(s.DeveloperLastUpdate)
		social.observe(s.SocialFirstPostDate)
	}
	if inWindow == 0 {
		return ConsistencyResult{}
	}

	devFreq, devStale := dev.stats(now, p.DeveloperStalenessMax)
	socFreq, socStale := social.stats(now, p.SocialStalenessMax)

	devScore := channelScore(devFreq, devStale, p.DeveloperFreqBaseline, p.DeveloperStalenessMax, p.DeveloperWeight)
	socScore := channelScore(socFreq, socStale, p.SocialFreqBaseline, p.SocialStalenessMax, p.SocialWeight)

	blended := 100 * (p.GlobalBlend*devScore + (1-p.GlobalBlend)*socScore)

	return ConsistencyResult{
		DeveloperFrequency: devFreq,
		SocialFrequency:    socFreq,
		DeveloperRecency:   round1(devStale),
		SocialRecency:      round1(socStale),
		DeveloperScore:     devScore,
		SocialScore:        socScore,
		ConsistencyScore:   round1(clamp(blended, 0, 100)),
	}
}

type channel struct {
	seen   map[int64]struct{}
	latest time.Time
}

func newChannel() *channel {
	return &channel{seen: make(map[int64]struct{})}
}

func (c *channel) observe(ts *time.Time) {
	if ts == nil || ts.IsZero() {
		return
	}
	c.seen[ts.UnixNano()] = struct{}{}
	if ts.After(c.latest) {
		c.latest = *ts
	}
}

func (c *channel) stats(now time.Time, stalenessMax float64) (int, float64) {
	if len(c.seen) == 0 {
		return 0, stalenessMax
	}
	return len(c.seen), math.Max(0, now.Sub(c.latest).Hours()/24)
}

func channelScore(n int, staleDays, baseline, stalenessMax, weight float64) float64 {
	freq := 0.0
	if baseline > 0 {
		freq = math.Min(1, float64(n)/baseline)
	}
	rec := 0.0
	if stalenessMax > 0 {
		rec = math.Max(0, 1-staleDays/stalenessMax)
	}
	return safe(weight*freq + (1-weight)*rec)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// safe replaces NaN and infinities with zero.
func safe(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
