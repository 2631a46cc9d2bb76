package models

import (
	"testing"
	"time"
)

func TestParseAlertType(t *testing.T) {
	for _, v := range []string{"health_score", "consistency_score", "price_drop", "migration", "delisting"} {
		if _, err := ParseAlertType(v); err != nil {
			t.Fatalf("ParseAlertType(%q) unexpected error: %v", v, err)
		}
	}
	for _, v := range []string{"", "portfolio_summary", "market_summary", "volume_spike"} {
		if _, err := ParseAlertType(v); err == nil {
			t.Fatalf("ParseAlertType(%q) should fail", v)
		}
	}
}

func TestSeverityOrder(t *testing.T) {
	order := []AlertType{AlertDelisting, AlertMigration, AlertHealthScore, AlertPriceDrop, AlertConsistencyScore}
	for i := 1; i < len(order); i++ {
		if order[i-1].Severity() >= order[i].Severity() {
			t.Fatalf("%s should rank ahead of %s", order[i-1], order[i])
		}
	}
	if AlertMarketSummary.Severity() >= AlertDelisting.Severity() {
		t.Fatal("summaries should rank ahead of per-coin alerts")
	}
}

func TestPreferenceAllows(t *testing.T) {
	def := DefaultNotificationPreference("u", 10)
	for _, typ := range DefinitionTypes {
		if !def.Allows(typ) {
			t.Fatalf("default preferences should allow %s", typ)
		}
	}

	critical := NotificationPreference{CriticalOnly: true}
	if !critical.Allows(AlertDelisting) || !critical.Allows(AlertMigration) {
		t.Fatal("critical_only should allow delisting and migration")
	}
	if critical.Allows(AlertPriceDrop) || critical.Allows(AlertConsistencyScore) {
		t.Fatal("critical_only should drop non-critical alerts")
	}
	if !critical.Allows(AlertMarketSummary) {
		t.Fatal("summaries always pass the preference filter")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want *time.Time
	}{
		{"", nil},
		{"not-a-date", nil},
		{"0001-01-01T00:00:00Z", nil},
		{"2025-03-01T10:00:00Z", ptr(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))},
		{"2025-03-01", ptr(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))},
		{"2025-03-01 10:00:00", ptr(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))},
	}
	for _, tt := range tests {
		got := ParseTimestamp(tt.in)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("ParseTimestamp(%q) = %v, want nil", tt.in, got)
		case tt.want != nil && (got == nil || !got.Equal(*tt.want)):
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func ptr(t time.Time) *time.Time { return &t }
