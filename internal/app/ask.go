package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"coco-alerts/internal/advisor"
)

const advisorSystemPrompt = "You are a cautious crypto portfolio assistant. Explain health and consistency scores plainly and never give financial advice."

// Ask sends a question through the advisor provider chain.
func (a *App) Ask(ctx context.Context, out io.Writer, opts AskOptions) error {
	if opts.UserID == "" || opts.Question == "" {
		return errors.New("user and question are required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cfg := a.Config.Advisor
	providers := make([]advisor.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, advisor.NewHTTPProvider(p.Name, p.BaseURL, p.APIKey, p.Model, cfg.Timeout))
	}

	chain := advisor.NewFallback(providers, cfg.MaxAttempts, cfg.DailyLimit, store, a.Logger)
	answer, err := chain.Complete(ctx, opts.UserID, []advisor.Message{
		{Role: "system", Content: advisorSystemPrompt},
		{Role: "user", Content: opts.Question},
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, answer.Text)
	fmt.Fprintf(out, "\n(%s, attempt %d, %d of %d today)\n", answer.Provider, answer.Attempts, answer.UsageToday, cfg.DailyLimit)
	return nil
}
