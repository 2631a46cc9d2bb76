package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(context.Context, []Message) (string, error) {
	s.calls++
	return s.text, s.err
}

type memUsage struct {
	counts map[string]int
	err    error
}

func (m *memUsage) key(userID, counter string, day time.Time) string {
	return fmt.Sprintf("%s|%s|%s", userID, counter, day.Format("2006-01-02"))
}

func (m *memUsage) UsageCount(_ context.Context, userID, counter string, day time.Time) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.counts[m.key(userID, counter, day)], nil
}

func (m *memUsage) IncrementUsage(_ context.Context, userID, counter string, day time.Time) (int, error) {
	k := m.key(userID, counter, day)
	m.counts[k]++
	return m.counts[k], nil
}

var question = []Message{{Role: "user", Content: "Is my portfolio healthy?"}}

func TestFallbackUsesNextProvider(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("rate limited")}
	secondary := &stubProvider{name: "secondary", text: "Mostly healthy."}
	usage := &memUsage{counts: map[string]int{}}

	f := NewFallback([]Provider{primary, secondary}, 3, 5, usage, zerolog.Nop())
	answer, err := f.Complete(context.Background(), "U1", question)
	require.NoError(t, err)
	require.Equal(t, "secondary", answer.Provider)
	require.Equal(t, 2, answer.Attempts)
	require.Equal(t, 1, answer.UsageToday)
}

func TestFallbackBoundedAttempts(t *testing.T) {
	var providers []Provider
	stubs := make([]*stubProvider, 5)
	for i := range stubs {
		stubs[i] = &stubProvider{name: fmt.Sprintf("p%d", i), err: errors.New("down")}
		providers = append(providers, stubs[i])
	}
	usage := &memUsage{counts: map[string]int{}}

	f := NewFallback(providers, 2, 5, usage, zerolog.Nop())
	_, err := f.Complete(context.Background(), "U1", question)
	require.ErrorIs(t, err, ErrAllProvidersFailed)
	require.Equal(t, 1, stubs[0].calls)
	require.Equal(t, 1, stubs[1].calls)
	require.Equal(t, 0, stubs[2].calls, "attempts beyond the limit must not run")
	require.Empty(t, usage.counts, "failed questions are not charged")
}

func TestFallbackQuota(t *testing.T) {
	p := &stubProvider{name: "primary", text: "ok"}
	usage := &memUsage{counts: map[string]int{}}
	f := NewFallback([]Provider{p}, 1, 2, usage, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := f.Complete(context.Background(), "U1", question)
		require.NoError(t, err)
	}
	_, err := f.Complete(context.Background(), "U1", question)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Equal(t, 2, p.calls)

	_, err = f.Complete(context.Background(), "U2", question)
	require.NoError(t, err, "quota is per user")
}

func TestFallbackUsageReadFailure(t *testing.T) {
	p := &stubProvider{name: "primary", text: "ok"}
	f := NewFallback([]Provider{p}, 1, 2, &memUsage{err: errors.New("db down")}, zerolog.Nop())
	_, err := f.Complete(context.Background(), "U1", question)
	require.Error(t, err)
	require.Equal(t, 0, p.calls)
}

func TestFallbackNoProviders(t *testing.T) {
	_, err := NewFallback(nil, 3, 0, nil, zerolog.Nop()).Complete(context.Background(), "U1", question)
	require.ErrorIs(t, err, ErrNoProviders)
}

func TestHTTPProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "small", req.Model)
		require.Len(t, req.Messages, 1)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Diversify."}}]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider("primary", srv.URL+"/", "secret", "small", time.Second)
	text, err := p.Complete(context.Background(), question)
	require.NoError(t, err)
	require.Equal(t, "Diversify.", text)
}

func TestHTTPProviderErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`, "503"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no content"},
		{"api error", http.StatusOK, `{"error":{"message":"bad model"}}`, "bad model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := NewHTTPProvider("primary", srv.URL, "", "small", time.Second)
			_, err := p.Complete(context.Background(), question)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
