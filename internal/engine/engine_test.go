package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"coco-alerts/internal/alerting"
	"coco-alerts/internal/models"
)

var now = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

type memLog struct {
	mu       sync.Mutex
	entries  []models.LogEntry
	queryErr error
	countErr error
}

func (m *memLog) match(f models.LogFilter, e models.LogEntry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.CoinID != "" && e.CoinID != f.CoinID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && e.SentAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.SentAt.Before(f.Until) {
		return false
	}
	return true
}

func (m *memLog) QueryNotificationLog(_ context.Context, f models.LogFilter) ([]models.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []models.LogEntry
	for _, e := range m.entries {
		if m.match(f, e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memLog) CountNotificationLog(ctx context.Context, f models.LogFilter) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	f.Limit = 0
	out, err := m.QueryNotificationLog(ctx, f)
	return len(out), err
}

func (m *memLog) AppendNotificationLog(_ context.Context, e models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

type fakeReports map[string]bool

func (f fakeReports) HasVerifiedReport(_ context.Context, coinID string, t models.AlertType) (bool, error) {
	if coinID == "broken" {
		return false, errors.New("reports unavailable")
	}
	return f[coinID+"|"+string(t)], nil
}

type fakeMailer struct {
	sent []alerting.Email
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg alerting.Email) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func nop() zerolog.Logger { return zerolog.Nop() }

func defaultPref(userID string) models.NotificationPreference {
	return models.DefaultNotificationPreference(userID, 10)
}

func TestEvaluatePriceDrop(t *testing.T) {
	ev := NewEvaluator(nil, nop())
	alert := models.AlertDefinition{UserID: "U1", CoinID: "bitcoin", Type: models.AlertPriceDrop, ThresholdValue: 5}

	c, err := ev.Evaluate(context.Background(), alert, models.CoinSnapshot{CoinID: "bitcoin", Symbol: "btc", PriceChange24h: -7.2})
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 7.2, c.CurrentValue)
	require.Equal(t, "BTC", c.CoinSymbol)
	require.Contains(t, c.Message, "7.2")
	require.Contains(t, c.Message, "5")

	c, err = ev.Evaluate(context.Background(), alert, models.CoinSnapshot{CoinID: "bitcoin", PriceChange24h: 7.2})
	require.NoError(t, err)
	require.Nil(t, c, "a price rise must not trigger a drop alert")

	c, err = ev.Evaluate(context.Background(), alert, models.CoinSnapshot{CoinID: "bitcoin", PriceChange24h: -5})
	require.NoError(t, err)
	require.Nil(t, c, "a drop equal to the threshold must not trigger")
}

func TestEvaluateScores(t *testing.T) {
	ev := NewEvaluator(nil, nop())
	score := 31.5

	c, err := ev.Evaluate(context.Background(),
		models.AlertDefinition{UserID: "U1", CoinID: "eth", Type: models.AlertHealthScore, ThresholdValue: 40},
		models.CoinSnapshot{CoinID: "eth", HealthScore: 35})
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 35.0, c.CurrentValue)

	c, err = ev.Evaluate(context.Background(),
		models.AlertDefinition{UserID: "U1", CoinID: "eth", Type: models.AlertConsistencyScore, ThresholdValue: 40},
		models.CoinSnapshot{CoinID: "eth", ConsistencyScore: &score})
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Contains(t, c.Message, "31.5")

	c, err = ev.Evaluate(context.Background(),
		models.AlertDefinition{UserID: "U1", CoinID: "eth", Type: models.AlertConsistencyScore, ThresholdValue: 40},
		models.CoinSnapshot{CoinID: "eth"})
	require.NoError(t, err)
	require.Nil(t, c, "unknown consistency must not trigger")
}

func TestEvaluateReports(t *testing.T) {
	ev := NewEvaluator(fakeReports{"luna|delisting": true}, nop())

	c, err := ev.Evaluate(context.Background(),
		models.AlertDefinition{UserID: "U1", CoinID: "luna", Type: models.AlertDelisting},
		models.CoinSnapshot{CoinID: "luna"})
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 1.0, c.CurrentValue)

	c, err = ev.Evaluate(context.Background(),
		models.AlertDefinition{UserID: "U1", CoinID: "luna", Type: models.AlertMigration},
		models.CoinSnapshot{CoinID: "luna"})
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = ev.Evaluate(context.Background(),
		models.AlertDefinition{UserID: "U1", CoinID: "broken", Type: models.AlertMigration},
		models.CoinSnapshot{CoinID: "broken"})
	require.Error(t, err)
}

func TestEvaluateUnknownType(t *testing.T) {
	ev := NewEvaluator(nil, nop())
	for _, typ := range []models.AlertType{"whale_watch", models.AlertPortfolioSummary} {
		_, err := ev.Evaluate(context.Background(), models.AlertDefinition{Type: typ}, models.CoinSnapshot{})
		require.ErrorIs(t, err, ErrUnknownAlertType)
	}
}

func TestCooldownPolicyFor(t *testing.T) {
	p := DefaultCooldownPolicy()
	pref := defaultPref("U1")

	require.Equal(t, time.Hour, p.For(models.AlertHealthScore, pref))
	require.Equal(t, 2*time.Hour, p.For(models.AlertPriceDrop, pref))
	require.Equal(t, 48*time.Hour, p.For(models.AlertDelisting, pref))

	pref.SnoozeEnabled = true
	pref.SnoozeDurationHours = 6
	require.Equal(t, 6*time.Hour, p.For(models.AlertConsistencyScore, pref))
	require.Equal(t, 2*time.Hour, p.For(models.AlertPriceDrop, pref), "snooze only applies to score alerts")
}

func TestGateCooldownWindow(t *testing.T) {
	sentAt := now
	log := &memLog{entries: []models.LogEntry{{
		UserID: "U", CoinID: "C", Type: models.AlertHealthScore, DeliveryStatus: models.DeliveryStatusSent, SentAt: sentAt,
	}}}
	gate := NewGate(log, DefaultCooldownPolicy(), nop())
	cand := models.Candidate{UserID: "U", CoinID: "C", Type: models.AlertHealthScore}

	require.False(t, gate.Allow(context.Background(), cand, defaultPref("U"), sentAt.Add(30*time.Minute)))
	require.True(t, gate.Allow(context.Background(), cand, defaultPref("U"), sentAt.Add(90*time.Minute)))

	other := cand
	other.Type = models.AlertPriceDrop
	require.True(t, gate.Allow(context.Background(), other, defaultPref("U"), sentAt.Add(time.Minute)), "cooldown is per alert type")
}

func TestGateLookupFailureAllows(t *testing.T) {
	gate := NewGate(&memLog{queryErr: errors.New("relation does not exist")}, DefaultCooldownPolicy(), nop())
	cand := models.Candidate{UserID: "U", CoinID: "C", Type: models.AlertPriceDrop}
	require.True(t, gate.Allow(context.Background(), cand, defaultPref("U"), now))
}

func candidates(n int, typ models.AlertType, distinctCoins bool) []models.Candidate {
	out := make([]models.Candidate, 0, n)
	for i := 0; i < n; i++ {
		coin := "coin"
		if distinctCoins {
			coin = fmt.Sprintf("coin-%d", i)
		}
		out = append(out, models.Candidate{UserID: fmt.Sprintf("u%d", i%7), CoinID: coin, CoinSymbol: strings.ToUpper(coin), Type: typ, CurrentValue: 10, ThresholdValue: 5})
	}
	return out
}

func TestDetectorTotalCandidates(t *testing.T) {
	d := NewDetector(&memLog{}, DefaultMarketEventPolicy(), nop())

	m := d.Classify(context.Background(), candidates(50, models.AlertHealthScore, false), now)
	require.True(t, m.MarketWide)
	require.Equal(t, ReasonTotalCandidates, m.Reason)

	m = d.Classify(context.Background(), candidates(49, models.AlertHealthScore, false), now)
	require.False(t, m.MarketWide)
	require.Equal(t, 0, m.RecentEntries)
}

func TestDetectorPriceDropSpread(t *testing.T) {
	d := NewDetector(nil, DefaultMarketEventPolicy(), nop())

	m := d.Classify(context.Background(), candidates(20, models.AlertPriceDrop, true), now)
	require.True(t, m.MarketWide)
	require.Equal(t, ReasonPriceDropSpread, m.Reason)

	m = d.Classify(context.Background(), candidates(25, models.AlertPriceDrop, false), now)
	require.False(t, m.MarketWide, "20 drops on one coin are not market-wide")
}

func TestDetectorRecentVolume(t *testing.T) {
	log := &memLog{}
	for i := 0; i < 30; i++ {
		log.entries = append(log.entries, models.LogEntry{UserID: fmt.Sprintf("u%d", i), SentAt: now.Add(-5 * time.Minute)})
	}
	log.entries = append(log.entries, models.LogEntry{UserID: "old", SentAt: now.Add(-time.Hour)})

	d := NewDetector(log, DefaultMarketEventPolicy(), nop())
	m := d.Classify(context.Background(), candidates(1, models.AlertPriceDrop, true), now)
	require.True(t, m.MarketWide)
	require.Equal(t, ReasonRecentVolume, m.Reason)
	require.Equal(t, 30, m.RecentEntries)

	failing := NewDetector(&memLog{countErr: errors.New("timeout")}, DefaultMarketEventPolicy(), nop())
	m = failing.Classify(context.Background(), candidates(1, models.AlertPriceDrop, true), now)
	require.False(t, m.MarketWide)
	require.Equal(t, -1, m.RecentEntries)
}

func TestSortByPriority(t *testing.T) {
	in := []models.Candidate{
		{CoinID: "a", Type: models.AlertConsistencyScore},
		{CoinID: "b", Type: models.AlertDelisting},
		{CoinID: "c", Type: models.AlertPriceDrop},
	}
	got := SortByPriority(in)
	require.Equal(t, models.AlertDelisting, got[0].Type)
	require.Equal(t, models.AlertPriceDrop, got[1].Type)
	require.Equal(t, models.AlertConsistencyScore, got[2].Type)
	require.Equal(t, models.AlertConsistencyScore, in[0].Type, "input must not be reordered")

	drops := SortByPriority([]models.Candidate{
		{CoinID: "small", Type: models.AlertPriceDrop, CurrentValue: 6, ThresholdValue: 5},
		{CoinID: "large", Type: models.AlertPriceDrop, CurrentValue: 20, ThresholdValue: 5},
	})
	require.Equal(t, "large", drops[0].CoinID)
}

func TestBatcherCollapsesIntoPortfolioSummary(t *testing.T) {
	b := NewBatcher(&memLog{}, DefaultDeliveryPolicy(), nop())
	pref := defaultPref("U1")

	planned := b.Plan(context.Background(), "U1", candidates(6, models.AlertPriceDrop, true), pref, false, now)
	require.Len(t, planned, 1)
	require.Equal(t, models.AlertPortfolioSummary, planned[0].Type)
	require.Equal(t, models.PortfolioCoinID, planned[0].CoinID)
	require.Contains(t, planned[0].Message, "6 alerts")

	pref.BatchPortfolioAlerts = false
	planned = b.Plan(context.Background(), "U1", candidates(6, models.AlertPriceDrop, true), pref, false, now)
	require.Len(t, planned, 6)
}

func TestBatcherMarketWideOverride(t *testing.T) {
	b := NewBatcher(&memLog{}, DefaultDeliveryPolicy(), nop())
	pref := defaultPref("U1")

	mixed := append(candidates(3, models.AlertPriceDrop, true), models.Candidate{UserID: "U1", CoinID: "luna", Type: models.AlertDelisting, CurrentValue: 1})
	planned := b.Plan(context.Background(), "U1", mixed, pref, true, now)
	require.Len(t, planned, 1)
	require.Equal(t, models.AlertDelisting, planned[0].Type)

	planned = b.Plan(context.Background(), "U1", candidates(3, models.AlertPriceDrop, true), pref, true, now)
	require.Len(t, planned, 1)
	require.Equal(t, models.AlertMarketSummary, planned[0].Type)
	require.Contains(t, planned[0].Message, "3 of your coins")

	require.Empty(t, b.Plan(context.Background(), "U1", nil, pref, true, now))
}

func TestBatcherPreferenceFilter(t *testing.T) {
	b := NewBatcher(&memLog{}, DefaultDeliveryPolicy(), nop())
	pref := defaultPref("U1")
	pref.CriticalOnly = true
	pref.ImportantAndCritical = false

	in := []models.Candidate{
		{UserID: "U1", CoinID: "a", Type: models.AlertPriceDrop},
		{UserID: "U1", CoinID: "b", Type: models.AlertMigration},
	}
	planned := b.Plan(context.Background(), "U1", in, pref, false, now)
	require.Len(t, planned, 1)
	require.Equal(t, models.AlertMigration, planned[0].Type)
}

func TestBatcherHourlyLimit(t *testing.T) {
	log := &memLog{}
	for i := 0; i < 2; i++ {
		log.entries = append(log.entries, models.LogEntry{UserID: "U1", CoinID: "x", SentAt: now.Add(-10 * time.Minute)})
	}
	log.entries = append(log.entries, models.LogEntry{UserID: "U1", CoinID: "x", SentAt: now.Add(-2 * time.Hour)})

	b := NewBatcher(log, DefaultDeliveryPolicy(), nop())
	pref := defaultPref("U1")
	pref.MaxNotificationsPerHour = 3
	pref.BatchPortfolioAlerts = false

	in := []models.Candidate{
		{UserID: "U1", CoinID: "a", Type: models.AlertConsistencyScore},
		{UserID: "U1", CoinID: "b", Type: models.AlertDelisting},
	}
	planned := b.Plan(context.Background(), "U1", in, pref, false, now)
	require.Len(t, planned, 1)
	require.Equal(t, models.AlertDelisting, planned[0].Type)

	pref.MaxNotificationsPerHour = 2
	require.Empty(t, b.Plan(context.Background(), "U1", in, pref, false, now))
}

func TestDelivererEmailFailureKeepsLog(t *testing.T) {
	log := &memLog{}
	mailer := &fakeMailer{err: errors.New("smtp down")}
	d := NewDeliverer(log, mailer, nop())

	pref := defaultPref("U1")
	pref.EmailAlerts = true
	pref.Email = "u1@example.com"

	sent := d.Deliver(context.Background(), pref, []models.Candidate{
		{UserID: "U1", CoinID: "bitcoin", Type: models.AlertPriceDrop, Message: "BTC down"},
		{UserID: "U1", CoinID: "eth", Type: models.AlertHealthScore, Message: "ETH weak"},
	}, now)
	require.Len(t, sent, 2)
	require.Len(t, log.entries, 2)
	require.Equal(t, models.DeliveryStatusSent, log.entries[0].DeliveryStatus)
	require.Equal(t, now, log.entries[0].SentAt)
}

func TestDelivererSendsEmailWhenEnabled(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDeliverer(&memLog{}, mailer, nop())

	pref := defaultPref("U1")
	d.Deliver(context.Background(), pref, []models.Candidate{{UserID: "U1", CoinID: "a", CoinSymbol: "A", Type: models.AlertPriceDrop}}, now)
	require.Empty(t, mailer.sent, "email alerts are off by default")

	pref.EmailAlerts = true
	pref.Email = "u1@example.com"
	d.Deliver(context.Background(), pref, []models.Candidate{{UserID: "U1", CoinID: "a", CoinSymbol: "A", Type: models.AlertPriceDrop, Message: "A down"}}, now)
	require.Len(t, mailer.sent, 1)
	require.Equal(t, "u1@example.com", mailer.sent[0].To)
	require.Equal(t, "A alert: price_drop", mailer.sent[0].Subject)
}
