package scoring

import (
	"math"
	"sort"
	"time"

	"coco-alerts/internal/models"
)

// NeutralScore is assigned when every coin shares the same raw metric value.
const NeutralScore = 50.0

// CapCategory buckets a coin by market capitalisation.
type CapCategory string

const (
	CapLow  CapCategory = "low"
	CapMid  CapCategory = "mid"
	CapHigh CapCategory = "high"
)

// CompositeParams tunes the cross-sectional ranking.
type CompositeParams struct {
	UndervaluationScale float64 `mapstructure:"undervaluation_scale"`
	LowCapFraction      float64 `mapstructure:"low_cap_fraction"`
	MidCapFraction      float64 `mapstructure:"mid_cap_fraction"`
}

// DefaultCompositeParams returns the production tuning.
func DefaultCompositeParams() CompositeParams {
	return CompositeParams{
		UndervaluationScale: 1e9,
		LowCapFraction:      0.02,
		MidCapFraction:      0.08,
	}
}

// CompositeScore is one coin's normalised ranking.
type CompositeScore struct {
	CoinID            string      `json:"coin_id"`
	Symbol            string      `json:"symbol"`
	SocialMomentum    float64     `json:"social_momentum"`
	DeveloperActivity float64     `json:"developer_activity"`
	Undervaluation    float64     `json:"undervaluation"`
	Recency           float64     `json:"recency"`
	Composite         float64     `json:"composite_score"`
	Category          CapCategory `json:"category"`
}

type rawMetrics struct {
	social, developer, undervalued, recency float64
}

// Composite ranks the whole coin universe in one pass. Results are sorted by
// descending composite score, ties broken by coin id.
func Composite(coins []models.CoinSnapshot, now time.Time, p CompositeParams) []CompositeScore {
	if len(coins) == 0 {
		return nil
	}

	raw := make([]rawMetrics, len(coins))
	caps := make([]float64, len(coins))
	for i, c := range coins {
		sinceUpdate := daysSince(c.DeveloperLastUpdate, now)
		sincePost := daysSince(c.SocialFirstPostDate, now)

		var r rawMetrics
		r.social = nonNegative(float64(c.SocialFollowers) / sincePost)
		r.developer = nonNegative(float64(c.DeveloperStars+c.DeveloperForks) / sinceUpdate)
		if c.MarketCap > 0 {
			r.undervalued = nonNegative(p.UndervaluationScale / c.MarketCap)
		}
		if c.DeveloperLastUpdate != nil {
			r.recency = nonNegative(1 / sinceUpdate)
		}
		raw[i] = r
		caps[i] = nonNegative(c.MarketCap)
	}

	social := MinMax(column(raw, func(r rawMetrics) float64 { return r.social }))
	developer := MinMax(column(raw, func(r rawMetrics) float64 { return r.developer }))
	undervalued := MinMax(column(raw, func(r rawMetrics) float64 { return r.undervalued }))
	recency := MinMax(column(raw, func(r rawMetrics) float64 { return r.recency }))
	categories := Categorize(caps, p)

	out := make([]CompositeScore, len(coins))
	for i, c := range coins {
		out[i] = CompositeScore{
			CoinID:            c.CoinID,
			Symbol:            c.DisplaySymbol(),
			SocialMomentum:    round1(social[i]),
			DeveloperActivity: round1(developer[i]),
			Undervaluation:    round1(undervalued[i]),
			Recency:           round1(recency[i]),
			Composite:         round1((social[i] + developer[i] + undervalued[i] + recency[i]) / 4),
			Category:          categories[i],
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Composite != out[j].Composite {
			return out[i].Composite > out[j].Composite
		}
		return out[i].CoinID < out[j].CoinID
	})
	return out
}

// MinMax rescales values onto 0-100. Invalid or negative inputs count as zero;
// a constant column maps to NeutralScore.
func MinMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	clean := make([]float64, len(values))
	for i, v := range values {
		v = nonNegative(v)
		clean[i] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		for i := range out {
			out[i] = NeutralScore
		}
		return out
	}
	for i, v := range clean {
		out[i] = 100 * (v - lo) / (hi - lo)
	}
	return out
}

// Categorize places each market cap within the universe's cap range. Coins in
// the bottom LowCapFraction of the range are Low, the next MidCapFraction are
// Mid, the remainder High. A degenerate range puts everything in Mid.
func Categorize(caps []float64, p CompositeParams) []CapCategory {
	out := make([]CapCategory, len(caps))
	if len(caps) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range caps {
		lo = math.Min(lo, c)
		hi = math.Max(hi, c)
	}
	for i, c := range caps {
		if hi == lo {
			out[i] = CapMid
			continue
		}
		pos := (c - lo) / (hi - lo)
		switch {
		case pos < p.LowCapFraction:
			out[i] = CapLow
		case pos < p.LowCapFraction+p.MidCapFraction:
			out[i] = CapMid
		default:
			out[i] = CapHigh
		}
	}
	return out
}

func column(raw []rawMetrics, pick func(rawMetrics) float64) []float64 {
	out := make([]float64, len(raw))
	for i, r := range raw {
		out[i] = pick(r)
	}
	return out
}

// daysSince returns at least one day so ratios stay finite.
func daysSince(ts *time.Time, now time.Time) float64 {
	if ts == nil || ts.IsZero() {
		return math.Inf(1)
	}
	return math.Max(1, now.Sub(*ts).Hours()/24)
}

func nonNegative(v float64) float64 {
	v = safe(v)
	if v < 0 {
		return 0
	}
	return v
}
