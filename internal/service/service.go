package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coco-alerts/internal/alerting"
	"coco-alerts/internal/config"
	"coco-alerts/internal/engine"
	"coco-alerts/internal/metrics"
	"coco-alerts/internal/models"
	"coco-alerts/internal/scheduler"
	"coco-alerts/internal/scoring"
	"coco-alerts/internal/storage"
)

// Cycle triggers, used in results and metrics.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// AlertSource lists active alert definitions.
type AlertSource interface {
	ListActiveAlerts(ctx context.Context) ([]models.AlertDefinition, error)
}

// SnapshotSource loads the current snapshot of a coin; nil means unknown.
type SnapshotSource interface {
	FetchCoinSnapshot(ctx context.Context, coinID string) (*models.CoinSnapshot, error)
}

// ActivitySource loads daily activity samples for consistency scoring.
type ActivitySource interface {
	ListActivitySamples(ctx context.Context, coinID string, since time.Time) ([]models.ActivitySample, error)
}

// PreferenceSource loads stored notification preferences; nil means none.
type PreferenceSource interface {
	FetchNotificationPreference(ctx context.Context, userID string) (*models.NotificationPreference, error)
}

// NotificationLog is the append-only log read by the gate, detector and batcher.
type NotificationLog interface {
	engine.LogReader
	engine.LogWriter
}

// Deps are the collaborators of a monitoring cycle. Activity, Reports,
// Mailer and Locker are optional.
type Deps struct {
	Alerts      AlertSource
	Snapshots   SnapshotSource
	Activity    ActivitySource
	Preferences PreferenceSource
	Reports     engine.ReportChecker
	Log         NotificationLog
	Mailer      alerting.Sender
	Locker      storage.AdvisoryLocker
}

// CycleResult summarises one monitoring cycle.
type CycleResult struct {
	CycleID                 string    `json:"cycleId"`
	Trigger                 string    `json:"trigger"`
	StartedAt               time.Time `json:"startedAt"`
	DurationMS              int64     `json:"durationMs"`
	AlertsProcessed         int       `json:"alertsProcessed"`
	NotificationsTriggered  int       `json:"notificationsTriggered"`
	NotificationsSuppressed int       `json:"notificationsSuppressed"`
	NotificationsSent       int       `json:"notificationsSent"`
	MarketWide              bool      `json:"marketWide"`
	MarketReason            string    `json:"marketReason,omitempty"`
	Skipped                 bool      `json:"skipped,omitempty"`
	Details                 []string  `json:"details"`
}

// Service orchestrates evaluation, anti-spam gating and delivery.
type Service struct {
	scheduler *scheduler.Scheduler
	deps      Deps
	logger    zerolog.Logger

	evaluator *engine.Evaluator
	gate      *engine.Gate
	detector  *engine.Detector
	batcher   *engine.Batcher
	deliverer *engine.Deliverer

	consistency  scoring.ConsistencyParams
	health       scoring.HealthParams
	batchSize    int
	batchDelay   time.Duration
	cycleTimeout time.Duration
	maxPerHour   int
	lockKey      int64
	now          func() time.Time
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, deps Deps, logger zerolog.Logger) *Service {
	batchSize := cfg.Monitor.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	return &Service{
		scheduler:    sched,
		deps:         deps,
		logger:       logger.With().Str("component", "service").Logger(),
		evaluator:    engine.NewEvaluator(deps.Reports, logger),
		gate:         engine.NewGate(deps.Log, cfg.Cooldown, logger),
		detector:     engine.NewDetector(deps.Log, cfg.MarketEvent, logger),
		batcher:      engine.NewBatcher(deps.Log, cfg.Delivery, logger),
		deliverer:    engine.NewDeliverer(deps.Log, deps.Mailer, logger),
		consistency:  cfg.Scoring.Consistency,
		health:       cfg.Scoring.Health,
		batchSize:    batchSize,
		batchDelay:   cfg.Monitor.InterBatchDelay,
		cycleTimeout: cfg.Monitor.CycleTimeout,
		maxPerHour:   cfg.Delivery.MaxPerHour,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the scheduled monitoring loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		_, err := s.RunCycle(ctx, TriggerScheduled)
		return err
	})
}

// cycleState is owned by a single RunCycle invocation.
type cycleState struct {
	now        time.Time
	prefs      map[string]models.NotificationPreference
	seen       map[string]struct{}
	candidates []models.Candidate
	result     *CycleResult
}

// RunCycle runs one full monitoring cycle. Only a failure to list active
// alerts is returned as an error; everything else is logged and skipped.
func (s *Service) RunCycle(ctx context.Context, trigger string) (CycleResult, error) {
	started := s.now()
	result := CycleResult{
		CycleID:   uuid.NewString(),
		Trigger:   trigger,
		StartedAt: started,
		Details:   []string{},
	}
	log := s.logger.With().Str("cycle_id", result.CycleID).Str("trigger", trigger).Logger()

	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("advisory lock unavailable, running unlocked")
		proceed = true
	}
	if !proceed {
		result.Skipped = true
		result.Details = append(result.Details, "skipped: another instance holds the monitoring lock")
		metrics.CycleTotal.WithLabelValues(trigger, "skipped").Inc()
		log.Info().Msg("skip cycle because advisory lock held elsewhere")
		return result, nil
	}
	if unlock != nil {
		defer unlock()
	}

	alerts, err := s.deps.Alerts.ListActiveAlerts(ctx)
	if err != nil {
		metrics.CycleTotal.WithLabelValues(trigger, "error").Inc()
		log.Error().Err(err).Msg("failed to list active alerts")
		return result, fmt.Errorf("list active alerts: %w", err)
	}
	result.AlertsProcessed = len(alerts)

	state := &cycleState{
		now:    started,
		prefs:  make(map[string]models.NotificationPreference),
		seen:   make(map[string]struct{}),
		result: &result,
	}

	byCoin := groupByCoin(alerts)
	coins := make([]string, 0, len(byCoin))
	for coin := range byCoin {
		coins = append(coins, coin)
	}
	sort.Strings(coins)

	for startIdx := 0; startIdx < len(coins); startIdx += s.batchSize {
		end := startIdx + s.batchSize
		if end > len(coins) {
			end = len(coins)
		}
		for _, coin := range coins[startIdx:end] {
			s.safeProcessCoin(ctx, coin, byCoin[coin], state)
		}
		if end < len(coins) && s.batchDelay > 0 {
			if err := sleep(ctx, s.batchDelay); err != nil {
				log.Warn().Err(err).Int("coins_remaining", len(coins)-end).Msg("cycle interrupted between batches")
				break
			}
		}
	}

	classification := s.detector.Classify(ctx, state.candidates, started)
	result.MarketWide = classification.MarketWide
	result.MarketReason = classification.Reason
	if classification.MarketWide {
		result.Details = append(result.Details, fmt.Sprintf("market-wide event (%s): %d candidates", classification.Reason, classification.Total))
	}

	byUser := groupByUser(state.candidates)
	users := make([]string, 0, len(byUser))
	for user := range byUser {
		users = append(users, user)
	}
	sort.Strings(users)

	for _, user := range users {
		s.safeDeliverUser(ctx, user, byUser[user], classification.MarketWide, state)
	}

	duration := s.now().Sub(started)
	result.DurationMS = duration.Milliseconds()
	metrics.CycleTotal.WithLabelValues(trigger, "success").Inc()
	metrics.CycleDuration.Observe(duration.Seconds())

	log.Info().
		Int("alerts_processed", result.AlertsProcessed).
		Int("triggered", result.NotificationsTriggered).
		Int("suppressed", result.NotificationsSuppressed).
		Int("sent", result.NotificationsSent).
		Bool("market_wide", result.MarketWide).
		Dur("duration", duration).
		Msg("monitoring cycle complete")

	return result, nil
}

func (s *Service) safeProcessCoin(ctx context.Context, coinID string, alerts []models.AlertDefinition, state *cycleState) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("coin_id", coinID).Interface("panic", r).Msg("coin processing panicked, skipping")
			state.result.Details = append(state.result.Details, fmt.Sprintf("coin %s skipped: internal error", coinID))
		}
	}()
	s.processCoin(ctx, coinID, alerts, state)
}

func (s *Service) processCoin(ctx context.Context, coinID string, alerts []models.AlertDefinition, state *cycleState) {
	snap, err := s.deps.Snapshots.FetchCoinSnapshot(ctx, coinID)
	if err != nil {
		metrics.CoinFetchFailures.Inc()
		s.logger.Error().Err(err).Str("coin_id", coinID).Int("alerts", len(alerts)).Msg("snapshot fetch failed, skipping coin")
		state.result.Details = append(state.result.Details, fmt.Sprintf("coin %s skipped: snapshot unavailable", coinID))
		return
	}
	if snap == nil {
		s.logger.Warn().Str("coin_id", coinID).Msg("no snapshot for coin, skipping")
		state.result.Details = append(state.result.Details, fmt.Sprintf("coin %s skipped: no snapshot", coinID))
		return
	}

	s.enrich(ctx, snap, alerts, state.now)

	for _, alert := range alerts {
		cand, err := s.evaluator.Evaluate(ctx, alert, *snap)
		if err != nil {
			s.logger.Warn().Err(err).Int64("alert_id", alert.ID).Str("coin_id", coinID).Msg("alert evaluation failed")
			continue
		}
		if cand == nil {
			continue
		}
		if _, dup := state.seen[cand.Key()]; dup {
			continue
		}
		state.seen[cand.Key()] = struct{}{}

		state.result.NotificationsTriggered++
		metrics.CandidatesTotal.WithLabelValues(cand.Type.String()).Inc()

		pref := s.preference(ctx, cand.UserID, state)
		if !s.gate.Allow(ctx, *cand, pref, state.now) {
			state.result.NotificationsSuppressed++
			continue
		}
		state.candidates = append(state.candidates, *cand)
	}
}

// enrich attaches the derived scores the evaluator reads.
func (s *Service) enrich(ctx context.Context, snap *models.CoinSnapshot, alerts []models.AlertDefinition, now time.Time) {
	snap.HealthScore = scoring.Health(*snap, now, s.health).Score

	if snap.ConsistencyScore != nil || s.deps.Activity == nil || !watches(alerts, models.AlertConsistencyScore) {
		return
	}
	since := now.AddDate(0, 0, -s.consistency.LookbackDays)
	samples, err := s.deps.Activity.ListActivitySamples(ctx, snap.CoinID, since)
	if err != nil {
		s.logger.Warn().Err(err).Str("coin_id", snap.CoinID).Msg("activity samples unavailable, consistency unknown")
		return
	}
	score := scoring.Consistency(samples, now, s.consistency).ConsistencyScore
	snap.ConsistencyScore = &score
}

func (s *Service) safeDeliverUser(ctx context.Context, userID string, cands []models.Candidate, marketWide bool, state *cycleState) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("user_id", userID).Interface("panic", r).Msg("user delivery panicked, skipping")
			state.result.Details = append(state.result.Details, fmt.Sprintf("user %s skipped: internal error", userID))
		}
	}()

	pref := s.preference(ctx, userID, state)
	planned := s.batcher.Plan(ctx, userID, cands, pref, marketWide, state.now)
	if len(planned) == 0 {
		return
	}

	sent := s.deliverer.Deliver(ctx, pref, planned, state.now)
	state.result.NotificationsSent += len(sent)
	for _, e := range sent {
		state.result.Details = append(state.result.Details, fmt.Sprintf("%s %s/%s: %s", e.UserID, e.CoinID, e.Type, e.Message))
	}
}

// preference loads a user's preferences once per cycle, falling back to defaults.
func (s *Service) preference(ctx context.Context, userID string, state *cycleState) models.NotificationPreference {
	if pref, ok := state.prefs[userID]; ok {
		return pref
	}

	pref := models.DefaultNotificationPreference(userID, s.maxPerHour)
	if s.deps.Preferences != nil {
		stored, err := s.deps.Preferences.FetchNotificationPreference(ctx, userID)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("preferences unavailable, using defaults")
		case stored != nil:
			pref = *stored
			pref.UserID = userID
		}
	}
	state.prefs[userID] = pref
	return pref
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func groupByCoin(alerts []models.AlertDefinition) map[string][]models.AlertDefinition {
	out := make(map[string][]models.AlertDefinition)
	for _, a := range alerts {
		if !a.IsActive {
			continue
		}
		out[a.CoinID] = append(out[a.CoinID], a)
	}
	return out
}

func groupByUser(cands []models.Candidate) map[string][]models.Candidate {
	out := make(map[string][]models.Candidate)
	for _, c := range cands {
		out[c.UserID] = append(out[c.UserID], c)
	}
	return out
}

func watches(alerts []models.AlertDefinition, t models.AlertType) bool {
	for _, a := range alerts {
		if a.Type == t {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
