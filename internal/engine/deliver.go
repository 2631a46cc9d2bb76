package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"coco-alerts/internal/alerting"
	"coco-alerts/internal/metrics"
	"coco-alerts/internal/models"
)

// Deliverer records planned notifications and forwards them by email.
type Deliverer struct {
	writer LogWriter
	mailer alerting.Sender
	logger zerolog.Logger
}

// NewDeliverer constructs a deliverer. mailer may be nil.
func NewDeliverer(writer LogWriter, mailer alerting.Sender, logger zerolog.Logger) *Deliverer {
	return &Deliverer{
		writer: writer,
		mailer: mailer,
		logger: logger.With().Str("component", "deliverer").Logger(),
	}
}

// Deliver writes one log entry per notification and returns the entries
// recorded. Email failures never block the log entry.
func (d *Deliverer) Deliver(ctx context.Context, pref models.NotificationPreference, planned []models.Candidate, now time.Time) []models.LogEntry {
	sent := make([]models.LogEntry, 0, len(planned))
	for _, c := range planned {
		entry := models.LogEntry{
			UserID:         c.UserID,
			CoinID:         c.CoinID,
			Type:           c.Type,
			Message:        c.Message,
			DeliveryStatus: models.DeliveryStatusSent,
			SentAt:         now.UTC(),
		}
		if err := d.writer.AppendNotificationLog(ctx, entry); err != nil {
			d.logger.Error().Err(err).
				Str("user_id", c.UserID).
				Str("coin_id", c.CoinID).
				Str("alert_type", c.Type.String()).
				Msg("failed to record notification")
			continue
		}
		sent = append(sent, entry)
		metrics.NotificationsSentTotal.WithLabelValues(c.Type.String()).Inc()

		if !pref.EmailAlerts || pref.Email == "" || d.mailer == nil {
			continue
		}
		if err := d.mailer.Send(ctx, buildEmail(pref, c)); err != nil {
			if errors.Is(err, alerting.ErrEmailDisabled) {
				continue
			}
			metrics.EmailFailuresTotal.Inc()
			d.logger.Warn().Err(err).
				Str("user_id", c.UserID).
				Str("alert_type", c.Type.String()).
				Msg("alert email failed, notification kept in log")
		}
	}
	return sent
}

func buildEmail(pref models.NotificationPreference, c models.Candidate) alerting.Email {
	var subject string
	switch c.Type {
	case models.AlertPortfolioSummary:
		subject = "Your portfolio alert summary"
	case models.AlertMarketSummary:
		subject = "Market-wide event alert"
	case models.AlertHealthScore, models.AlertConsistencyScore, models.AlertPriceDrop, models.AlertMigration, models.AlertDelisting:
		subject = fmt.Sprintf("%s alert: %s", c.CoinSymbol, c.Type)
	default:
		subject = "Crypto alert"
	}
	return alerting.Email{
		UserID:  c.UserID,
		To:      pref.Email,
		Subject: subject,
		Text:    c.Message,
	}
}
