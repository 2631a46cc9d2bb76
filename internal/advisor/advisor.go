// Package advisor answers portfolio questions through an ordered chain of
// completion providers under a persisted daily quota.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"coco-alerts/internal/metrics"
)

// UsageCounter is the counter name advisor calls are recorded under.
const UsageCounter = "advisor_messages"

var (
	// ErrQuotaExceeded is returned when the user has used today's allowance.
	ErrQuotaExceeded = errors.New("advisor: daily quota exceeded")
	// ErrAllProvidersFailed is returned when no provider produced an answer.
	ErrAllProvidersFailed = errors.New("advisor: all providers failed")
	// ErrNoProviders is returned when the chain is empty.
	ErrNoProviders = errors.New("advisor: no providers configured")
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider produces a completion for a conversation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message) (string, error)
}

// UsageStore persists per-user daily counters.
type UsageStore interface {
	UsageCount(ctx context.Context, userID, counter string, day time.Time) (int, error)
	IncrementUsage(ctx context.Context, userID, counter string, day time.Time) (int, error)
}

// Answer is a successful completion.
type Answer struct {
	Provider   string `json:"provider"`
	Text       string `json:"text"`
	Attempts   int    `json:"attempts"`
	UsageToday int    `json:"usage_today"`
}

// Fallback tries providers in priority order, at most MaxAttempts calls per question.
type Fallback struct {
	providers   []Provider
	maxAttempts int
	dailyLimit  int
	usage       UsageStore
	logger      zerolog.Logger
	now         func() time.Time
}

// NewFallback builds the provider chain. A dailyLimit of zero disables the quota.
func NewFallback(providers []Provider, maxAttempts, dailyLimit int, usage UsageStore, logger zerolog.Logger) *Fallback {
	if maxAttempts <= 0 {
		maxAttempts = len(providers)
	}
	return &Fallback{
		providers:   providers,
		maxAttempts: maxAttempts,
		dailyLimit:  dailyLimit,
		usage:       usage,
		logger:      logger.With().Str("component", "advisor").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Complete answers for userID. Quota is checked before any provider call and
// charged only on success.
func (f *Fallback) Complete(ctx context.Context, userID string, messages []Message) (Answer, error) {
	if len(f.providers) == 0 {
		return Answer{}, ErrNoProviders
	}

	day := f.now()
	if f.usage != nil && f.dailyLimit > 0 {
		used, err := f.usage.UsageCount(ctx, userID, UsageCounter, day)
		if err != nil {
			return Answer{}, fmt.Errorf("read advisor usage: %w", err)
		}
		if used >= f.dailyLimit {
			return Answer{}, fmt.Errorf("%w: %d of %d used", ErrQuotaExceeded, used, f.dailyLimit)
		}
	}

	var lastErr error
	attempts := 0
	for _, p := range f.providers {
		if attempts >= f.maxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return Answer{}, err
		}
		attempts++

		text, err := p.Complete(ctx, messages)
		if err != nil {
			lastErr = err
			metrics.AdvisorAttempts.WithLabelValues(p.Name(), "error").Inc()
			f.logger.Warn().Err(err).Str("provider", p.Name()).Int("attempt", attempts).Msg("provider failed, trying next")
			continue
		}
		metrics.AdvisorAttempts.WithLabelValues(p.Name(), "success").Inc()

		answer := Answer{Provider: p.Name(), Text: text, Attempts: attempts}
		if f.usage != nil {
			used, err := f.usage.IncrementUsage(ctx, userID, UsageCounter, day)
			if err != nil {
				f.logger.Error().Err(err).Str("user_id", userID).Msg("failed to record advisor usage")
			}
			answer.UsageToday = used
		}
		return answer, nil
	}

	return Answer{}, fmt.Errorf("%w after %d attempts: %v", ErrAllProvidersFailed, attempts, lastErr)
}
