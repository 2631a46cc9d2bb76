package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"coco-alerts/internal/models"
)

// Show prints recent notification log entries.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := store.QueryNotificationLog(ctx, models.LogFilter{
		UserID: opts.UserID,
		CoinID: opts.CoinID,
		Limit:  opts.Limit,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no notifications found")
		return nil
	}

	return writeEntries(out, entries)
}

func writeEntries(out io.Writer, entries []models.LogEntry) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tUser\tCoin\tType\tStatus\tMessage")

	for _, e := range entries {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			e.SentAt.UTC().Format(time.RFC3339),
			e.UserID,
			e.CoinID,
			e.Type,
			e.DeliveryStatus,
			sanitizeInline(e.Message),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
