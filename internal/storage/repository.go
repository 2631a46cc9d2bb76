package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"coco-alerts/internal/models"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// undefinedTable is the SQLSTATE for a missing relation.
const undefinedTable = "42P01"

const (
	listActiveAlertsSQL = `SELECT
        id,
        user_id,
        coin_id,
        alert_type,
        threshold_value,
        is_active,
        created_at
    FROM user_alerts
    WHERE is_active
    ORDER BY coin_id, id;`

	coinColumns = `coin_id,
        name,
        symbol,
        COALESCE(price, 0),
        COALESCE(market_cap, 0),
        COALESCE(volume_24h, 0),
        COALESCE(price_change_24h, 0),
        COALESCE(developer_stars, 0),
        COALESCE(developer_forks, 0),
        developer_last_update,
        COALESCE(social_followers, 0),
        social_first_post_date,
        consistency_score`

	fetchCoinSQL = `SELECT ` + coinColumns + `
    FROM coins
    WHERE coin_id = $1;`

	listCoinsSQL = `SELECT ` + coinColumns + `
    FROM coins
    ORDER BY coin_id;`

	listActivitySamplesSQL = `SELECT
        coin_id,
        sample_date,
        developer_last_update,
        social_first_post_date
    FROM coin_activity_samples
    WHERE coin_id = $1
      AND sample_date >= $2
    ORDER BY sample_date DESC;`

	fetchPreferenceSQL = `SELECT
        user_id,
        COALESCE(email, ''),
        snooze_enabled,
        snooze_duration_hours,
        email_alerts,
        critical_only,
        important_and_critical,
        all_notifications,
        batch_portfolio_alerts,
        COALESCE(max_notifications_per_hour, 0)
    FROM notification_preferences
    WHERE user_id = $1;`

	logColumns = `id, user_id, coin_id, alert_type, message, delivery_status, sent_at`

	appendLogSQL = `INSERT INTO notification_logs (
        user_id,
        coin_id,
        alert_type,
        message,
        delivery_status,
        sent_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	hasVerifiedReportSQL = `SELECT EXISTS (
        SELECT 1 FROM community_reports
        WHERE coin_id = $1
          AND report_type = $2
          AND verified
          AND NOT archived
    );`

	incrementUsageSQL = `INSERT INTO usage_counters (user_id, counter, day, count)
    VALUES ($1, $2, $3, 1)
    ON CONFLICT (user_id, counter, day) DO UPDATE
    SET count = usage_counters.count + 1
    RETURNING count;`

	usageCountSQL = `SELECT COALESCE(
        (SELECT count FROM usage_counters WHERE user_id = $1 AND counter = $2 AND day = $3),
        0
    );`

	hourlyCountsSQL = `SELECT
        date_trunc('hour', sent_at) AS hour,
        COUNT(*)
    FROM notification_logs
    WHERE sent_at >= $1
      AND sent_at < $2
    GROUP BY hour
    ORDER BY hour
    LIMIT $3;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store implements every persistence collaborator of the monitoring cycle.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListActiveAlerts returns every active alert definition ordered by coin.
// Unknown alert types are returned as stored and rejected by the evaluator.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]models.AlertDefinition, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listActiveAlertsSQL)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.AlertDefinition, 0)
	for rows.Next() {
		var (
			a       models.AlertDefinition
			rawType string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.CoinID, &rawType, &a.ThresholdValue, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = models.AlertType(rawType)
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// FetchCoinSnapshot returns the current snapshot, or nil when the coin is unknown.
func (s *Store) FetchCoinSnapshot(ctx context.Context, coinID string) (*models.CoinSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row, err := scanCoin(pool.QueryRow(ctx, fetchCoinSQL, coinID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch coin %s: %w", coinID, err)
	}
	snap := row.snapshot()
	return &snap, nil
}

// ListCoinSnapshots returns the whole coin universe.
func (s *Store) ListCoinSnapshots(ctx context.Context) ([]models.CoinSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listCoinsSQL)
	if err != nil {
		return nil, fmt.Errorf("list coins: %w", err)
	}
	defer rows.Close()

	coins := make([]models.CoinSnapshot, 0)
	for rows.Next() {
		row, err := scanCoin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coin: %w", err)
		}
		coins = append(coins, row.snapshot())
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return coins, nil
}

// ListActivitySamples returns samples for coinID dated on or after since.
func (s *Store) ListActivitySamples(ctx context.Context, coinID string, since time.Time) ([]models.ActivitySample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listActivitySamplesSQL, coinID, since)
	if err != nil {
		return nil, fmt.Errorf("list activity samples: %w", err)
	}
	defer rows.Close()

	samples := make([]models.ActivitySample, 0)
	for rows.Next() {
		var (
			sample     models.ActivitySample
			dev, first *string
		)
		if err := rows.Scan(&sample.CoinID, &sample.Date, &dev, &first); err != nil {
			return nil, fmt.Errorf("scan activity sample: %w", err)
		}
		sample.DeveloperLastUpdate = parseText(dev)
		sample.SocialFirstPostDate = parseText(first)
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// FetchNotificationPreference returns the stored preferences or nil when the
// user has none.
func (s *Store) FetchNotificationPreference(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var p models.NotificationPreference
	err = pool.QueryRow(ctx, fetchPreferenceSQL, userID).Scan(
		&p.UserID,
		&p.Email,
		&p.SnoozeEnabled,
		&p.SnoozeDurationHours,
		&p.EmailAlerts,
		&p.CriticalOnly,
		&p.ImportantAndCritical,
		&p.AllNotifications,
		&p.BatchPortfolioAlerts,
		&p.MaxNotificationsPerHour,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch preferences for %s: %w", userID, err)
	}
	return &p, nil
}

// QueryNotificationLog returns matching entries, newest first. A missing log
// table yields no entries.
func (s *Store) QueryNotificationLog(ctx context.Context, filter models.LogFilter) ([]models.LogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query, args := buildLogQuery("SELECT "+logColumns+" FROM notification_logs", filter, true)
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query notification log: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LogEntry, 0)
	for rows.Next() {
		var (
			e       models.LogEntry
			rawType string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.CoinID, &rawType, &e.Message, &e.DeliveryStatus, &e.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		e.Type = models.AlertType(rawType)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

// CountNotificationLog counts matching entries. A missing log table counts as zero.
func (s *Store) CountNotificationLog(ctx context.Context, filter models.LogFilter) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	query, args := buildLogQuery("SELECT COUNT(*) FROM notification_logs", filter, false)
	var count int
	if err := pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("count notification log: %w", err)
	}
	return count, nil
}

// AppendNotificationLog persists one delivered notification.
func (s *Store) AppendNotificationLog(ctx context.Context, entry models.LogEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	status := entry.DeliveryStatus
	if status == "" {
		status = models.DeliveryStatusSent
	}
	sentAt := entry.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	if _, err := pool.Exec(ctx, appendLogSQL,
		entry.UserID,
		entry.CoinID,
		entry.Type.String(),
		entry.Message,
		status,
		sentAt,
	); err != nil {
		return fmt.Errorf("append notification log: %w", err)
	}
	return nil
}

// HasVerifiedReport reports whether a verified, non-archived report of
// reportType exists for coinID.
func (s *Store) HasVerifiedReport(ctx context.Context, coinID string, reportType models.AlertType) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var exists bool
	if err := pool.QueryRow(ctx, hasVerifiedReportSQL, coinID, reportType.String()).Scan(&exists); err != nil {
		if isUndefinedTable(err) {
			return false, nil
		}
		return false, fmt.Errorf("lookup community report: %w", err)
	}
	return exists, nil
}

// IncrementUsage bumps a per-user daily counter and returns the new value.
func (s *Store) IncrementUsage(ctx context.Context, userID, counter string, day time.Time) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int
	if err := pool.QueryRow(ctx, incrementUsageSQL, userID, counter, dayOf(day)).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment usage %s/%s: %w", userID, counter, err)
	}
	return count, nil
}

// UsageCount reads a per-user daily counter.
func (s *Store) UsageCount(ctx context.Context, userID, counter string, day time.Time) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int
	if err := pool.QueryRow(ctx, usageCountSQL, userID, counter, dayOf(day)).Scan(&count); err != nil {
		return 0, fmt.Errorf("read usage %s/%s: %w", userID, counter, err)
	}
	return count, nil
}

// HourlyNotificationCounts aggregates sent notifications per hour in [from, to).
func (s *Store) HourlyNotificationCounts(ctx context.Context, from, to time.Time, limit int) ([]HourlyCount, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, hourlyCountsSQL, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("hourly notification counts: %w", err)
	}
	defer rows.Close()

	out := make([]HourlyCount, 0)
	for rows.Next() {
		var hc HourlyCount
		if err := rows.Scan(&hc.Hour, &hc.Count); err != nil {
			return nil, err
		}
		out = append(out, hc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// buildLogQuery appends the filter as positional predicates to base.
func buildLogQuery(base string, f models.LogFilter, ordered bool) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.CoinID != "" {
		add("coin_id = $%d", f.CoinID)
	}
	if f.Type != "" {
		add("alert_type = $%d", f.Type.String())
	}
	if !f.Since.IsZero() {
		add("sent_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("sent_at < $%d", f.Until)
	}

	var b strings.Builder
	b.WriteString(base)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if ordered {
		b.WriteString(" ORDER BY sent_at DESC, id DESC")
		if f.Limit > 0 {
			args = append(args, f.Limit)
			fmt.Fprintf(&b, " LIMIT $%d", len(args))
		}
	}
	return b.String(), args
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoin(row rowScanner) (coinRow, error) {
	var r coinRow
	err := row.Scan(
		&r.CoinID,
		&r.Name,
		&r.Symbol,
		&r.Price,
		&r.MarketCap,
		&r.Volume24h,
		&r.PriceChange24h,
		&r.DeveloperStars,
		&r.DeveloperForks,
		&r.DeveloperLastUpdate,
		&r.SocialFollowers,
		&r.SocialFirstPostDate,
		&r.ConsistencyScore,
	)
	return r, err
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
