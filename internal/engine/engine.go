// Package engine decides which alerts fire and which of them reach a user.
package engine

import (
	"context"
	"errors"

	"coco-alerts/internal/models"
)

// ErrUnknownAlertType is returned for alert types the evaluator cannot dispatch.
var ErrUnknownAlertType = errors.New("engine: unknown alert type")

// ReportChecker answers whether a verified, non-archived community report of
// the given type exists for a coin.
type ReportChecker interface {
	HasVerifiedReport(ctx context.Context, coinID string, reportType models.AlertType) (bool, error)
}

// LogReader reads the append-only notification log.
type LogReader interface {
	// QueryNotificationLog returns matching entries, newest first.
	QueryNotificationLog(ctx context.Context, filter models.LogFilter) ([]models.LogEntry, error)
	CountNotificationLog(ctx context.Context, filter models.LogFilter) (int, error)
}

// LogWriter appends to the notification log.
type LogWriter interface {
	AppendNotificationLog(ctx context.Context, entry models.LogEntry) error
}
