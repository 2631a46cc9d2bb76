package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrEmailDisabled is returned when no mail API is configured.
var ErrEmailDisabled = errors.New("alerting: email delivery disabled")

// Email is one outbound alert email.
type Email struct {
	UserID  string `json:"-"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Sender delivers alert emails.
type Sender interface {
	Send(ctx context.Context, msg Email) error
}

// EmailOptions parameterise the HTTP mail API client.
type EmailOptions struct {
	APIURL        string
	APIKey        string
	From          string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	// BreakerFailures is the number of consecutive failures that opens the circuit.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// EmailSender posts alert emails to a transactional mail API.
type EmailSender struct {
	opts    EmailOptions
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewEmailSender constructs the HTTP mail client.
func NewEmailSender(opts EmailOptions, logger zerolog.Logger) *EmailSender {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = time.Minute
	}
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")

	log := logger.With().Str("component", "alert_email").Logger()
	failures := opts.BreakerFailures
	settings := gobreaker.Settings{
		Name:    "email",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("email breaker state changed")
		},
	}

	return &EmailSender{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  log,
	}
}

// Send delivers msg once. Failures are returned, never retried.
func (s *EmailSender) Send(ctx context.Context, msg Email) error {
	if s.opts.APIURL == "" {
		return ErrEmailDisabled
	}
	if msg.To == "" {
		return fmt.Errorf("email for user %s has no recipient", msg.UserID)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("email rate limiter: %w", err)
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, msg)
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Str("user_id", msg.UserID).Str("subject", msg.Subject).Msg("alert email sent")
	return nil
}

func (s *EmailSender) post(ctx context.Context, msg Email) error {
	payload := map[string]string{
		"from":    s.opts.From,
		"to":      msg.To,
		"subject": msg.Subject,
		"text":    msg.Text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email api status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

var _ Sender = (*EmailSender)(nil)
