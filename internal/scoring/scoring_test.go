package scoring

import (
	"math"
	"testing"
	"time"

	"coco-alerts/internal/models"
)

var testNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func daysAgo(n float64) *time.Time {
	t := testNow.Add(-time.Duration(n * float64(day)))
	return &t
}

func TestConsistencyEmptyWindow(t *testing.T) {
	p := DefaultConsistencyParams()

	if got := Consistency(nil, testNow, p); got != (ConsistencyResult{}) {
		t.Fatalf("empty input should score zero, got %+v", got)
	}

	stale := []models.ActivitySample{{
		CoinID:              "btc",
		Date:                *daysAgo(45),
		DeveloperLastUpdate: daysAgo(45),
		SocialFirstPostDate: daysAgo(45),
	}}
	if got := Consistency(stale, testNow, p); got.ConsistencyScore != 0 {
		t.Fatalf("samples outside the window should score zero, got %v", got.ConsistencyScore)
	}
}

func TestConsistencyWorkedExample(t *testing.T) {
	samples := []models.ActivitySample{
		{Date: *daysAgo(1), DeveloperLastUpdate: daysAgo(1), SocialFirstPostDate: daysAgo(2)},
		{Date: *daysAgo(2), DeveloperLastUpdate: daysAgo(3), SocialFirstPostDate: daysAgo(2)},
		{Date: *daysAgo(3), DeveloperLastUpdate: daysAgo(5), SocialFirstPostDate: daysAgo(4)},
		{Date: *daysAgo(4), DeveloperLastUpdate: daysAgo(5), SocialFirstPostDate: nil},
	}

	got := Consistency(samples, testNow, DefaultConsistencyParams())

	if got.DeveloperFrequency != 3 {
		t.Errorf("DeveloperFrequency = %d, want 3", got.DeveloperFrequency)
	}
	if got.SocialFrequency != 2 {
		t.Errorf("SocialFrequency = %d, want 2", got.SocialFrequency)
	}
	if got.DeveloperRecency != 1 || got.SocialRecency != 2 {
		t.Errorf("recency = (%v, %v), want (1, 2)", got.DeveloperRecency, got.SocialRecency)
	}
	// dev: 0.6*3/8 + 0.4*(1-1/30); social: 0.5*2/20 + 0.5*(1-2/14)
	if got.ConsistencyScore != 54.5 {
		t.Errorf("ConsistencyScore = %v, want 54.5", got.ConsistencyScore)
	}
}

func TestConsistencyMissingChannel(t *testing.T) {
	samples := []models.ActivitySample{
		{Date: *daysAgo(1), DeveloperLastUpdate: daysAgo(0)},
	}
	p := DefaultConsistencyParams()
	got := Consistency(samples, testNow, p)
	if got.SocialFrequency != 0 || got.SocialRecency != p.SocialStalenessMax || got.SocialScore != 0 {
		t.Fatalf("missing social activity should be maximally stale, got %+v", got)
	}
}

func TestConsistencyBoundedAndDeterministic(t *testing.T) {
	p := DefaultConsistencyParams()
	var samples []models.ActivitySample
	for i := 0; i < 30; i++ {
		samples = append(samples, models.ActivitySample{
			Date:                *daysAgo(float64(i)),
			DeveloperLastUpdate: daysAgo(float64(i) / 2),
			SocialFirstPostDate: daysAgo(float64(i) / 3),
		})
	}
	first := Consistency(samples, testNow, p)
	if first.ConsistencyScore < 0 || first.ConsistencyScore > 100 {
		t.Fatalf("score out of range: %v", first.ConsistencyScore)
	}
	for i := 0; i < 5; i++ {
		if again := Consistency(samples, testNow, p); again != first {
			t.Fatalf("non-deterministic result: %+v vs %+v", again, first)
		}
	}
	if first.ConsistencyScore != 100 {
		t.Errorf("saturated activity should score 100, got %v", first.ConsistencyScore)
	}
}

func TestHealth(t *testing.T) {
	p := DefaultHealthParams()

	empty := Health(models.CoinSnapshot{}, testNow, p)
	if empty.Score != 0 {
		t.Fatalf("empty snapshot health = %v, want 0", empty.Score)
	}

	strong := Health(models.CoinSnapshot{
		MarketCap:           1e9,
		Volume24h:           5e8,
		SocialFollowers:     2_000_000,
		SocialFirstPostDate: daysAgo(0),
		DeveloperStars:      50_000,
		DeveloperForks:      10_000,
		DeveloperLastUpdate: daysAgo(0),
	}, testNow, p)
	if strong.Score != 100 {
		t.Fatalf("saturated snapshot health = %v, want 100", strong.Score)
	}

	stale := Health(models.CoinSnapshot{
		MarketCap:           1e9,
		Volume24h:           5e8,
		SocialFollowers:     2_000_000,
		SocialFirstPostDate: daysAgo(7),
		DeveloperStars:      50_000,
		DeveloperLastUpdate: daysAgo(30),
	}, testNow, p)
	if math.Abs(stale.Score-65) > 0.05 {
		t.Fatalf("one half-life on both channels should give 65, got %v", stale.Score)
	}
}

func TestMinMaxConstantColumn(t *testing.T) {
	got := MinMax([]float64{7, 7, 7})
	for i, v := range got {
		if v != NeutralScore {
			t.Fatalf("MinMax constant[%d] = %v, want %v", i, v, NeutralScore)
		}
	}
}

func TestMinMaxInvalidValues(t *testing.T) {
	got := MinMax([]float64{-5, math.NaN(), 10, math.Inf(1)})
	want := []float64{0, 0, 100, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MinMax[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCategorize(t *testing.T) {
	p := DefaultCompositeParams()
	caps := []float64{0, 1_000, 50_000, 100_000}
	got := Categorize(caps, p)
	want := []CapCategory{CapLow, CapLow, CapHigh, CapHigh}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Categorize(%v)[%d] = %s, want %s", caps[i], i, got[i], want[i])
		}
	}

	if got := Categorize([]float64{0, 5_000, 100_000}, p); got[1] != CapMid {
		t.Errorf("5%% of range should be mid, got %s", got[1])
	}
	if got := Categorize([]float64{42, 42}, p); got[0] != CapMid || got[1] != CapMid {
		t.Errorf("degenerate range should be mid, got %v", got)
	}
}

func TestCompositeIdenticalUniverse(t *testing.T) {
	coin := models.CoinSnapshot{
		MarketCap:           1e8,
		SocialFollowers:     1_000,
		SocialFirstPostDate: daysAgo(10),
		DeveloperStars:      100,
		DeveloperLastUpdate: daysAgo(5),
	}
	a, b := coin, coin
	a.CoinID, b.CoinID = "a", "b"

	got := Composite([]models.CoinSnapshot{a, b}, testNow, DefaultCompositeParams())
	for _, s := range got {
		if s.SocialMomentum != 50 || s.DeveloperActivity != 50 || s.Undervaluation != 50 || s.Recency != 50 || s.Composite != 50 {
			t.Fatalf("identical coins should all be neutral, got %+v", s)
		}
	}
}

func TestCompositeRanking(t *testing.T) {
	active := models.CoinSnapshot{
		CoinID:              "active",
		MarketCap:           1e7,
		SocialFollowers:     50_000,
		SocialFirstPostDate: daysAgo(1),
		DeveloperStars:      900,
		DeveloperForks:      100,
		DeveloperLastUpdate: daysAgo(1),
	}
	dormant := models.CoinSnapshot{
		CoinID:    "dormant",
		MarketCap: 1e10,
	}

	got := Composite([]models.CoinSnapshot{dormant, active}, testNow, DefaultCompositeParams())
	if len(got) != 2 || got[0].CoinID != "active" {
		t.Fatalf("active coin should rank first, got %+v", got)
	}
	if got[0].Composite != 100 || got[1].Composite != 0 {
		t.Fatalf("composites = (%v, %v), want (100, 0)", got[0].Composite, got[1].Composite)
	}
	if got[0].Category != CapLow || got[1].Category != CapHigh {
		t.Fatalf("categories = (%s, %s), want (low, high)", got[0].Category, got[1].Category)
	}
}
