package models

import "time"

// DeliveryStatusSent is the only status written to the notification log.
const DeliveryStatusSent = "sent"

// NotificationPreference holds per-user delivery preferences.
type NotificationPreference struct {
	UserID                  string  `json:"user_id"`
	Email                   string  `json:"email,omitempty"`
	SnoozeEnabled           bool    `json:"snooze_enabled"`
	SnoozeDurationHours     float64 `json:"snooze_duration_hours"`
	EmailAlerts             bool    `json:"email_alerts"`
	CriticalOnly            bool    `json:"critical_only"`
	ImportantAndCritical    bool    `json:"important_and_critical"`
	AllNotifications        bool    `json:"all_notifications"`
	BatchPortfolioAlerts    bool    `json:"batch_portfolio_alerts"`
	MaxNotificationsPerHour int     `json:"max_notifications_per_hour"`
}

// DefaultNotificationPreference is applied when a user has no stored row.
func DefaultNotificationPreference(userID string, maxPerHour int) NotificationPreference {
	return NotificationPreference{
		UserID:                  userID,
		SnoozeDurationHours:     1,
		ImportantAndCritical:    true,
		BatchPortfolioAlerts:    true,
		MaxNotificationsPerHour: maxPerHour,
	}
}

var (
	criticalTypes = []AlertType{AlertDelisting, AlertMigration}
	allTypes      = DefinitionTypes
)

// Allows reports whether the preference flags permit notifications of type t.
// Synthetic summaries are always allowed.
func (p NotificationPreference) Allows(t AlertType) bool {
	if t.IsSummary() {
		return true
	}
	// important_and_critical (the default) and all_notifications both cover
	// every definition type.
	permitted := allTypes
	if p.CriticalOnly && !p.AllNotifications {
		permitted = criticalTypes
	}
	for _, candidate := range permitted {
		if candidate == t {
			return true
		}
	}
	return false
}

// LogEntry is a persisted record of a delivered notification.
type LogEntry struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	CoinID         string    `json:"coin_id"`
	Type           AlertType `json:"alert_type"`
	Message        string    `json:"message"`
	DeliveryStatus string    `json:"delivery_status"`
	SentAt         time.Time `json:"sent_at"`
}

// LogFilter narrows notification log queries. Zero fields are ignored.
type LogFilter struct {
	UserID string
	CoinID string
	Type   AlertType
	Since  time.Time
	Until  time.Time
	Limit  int
}
