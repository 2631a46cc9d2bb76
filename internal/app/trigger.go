package app

import (
	"context"
	"encoding/json"
	"io"

	"coco-alerts/internal/service"
)

// Trigger runs one manual cycle and writes the JSON result to out.
func (a *App) Trigger(ctx context.Context, out io.Writer) error {
	svc, _, closeAll, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeAll()

	result, err := svc.RunCycle(ctx, service.TriggerManual)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// Migrate applies the embedded schema migrations.
func (a *App) Migrate(ctx context.Context, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	applied, err := store.Migrate(ctx)
	if err != nil {
		return err
	}
	for _, name := range applied {
		_, _ = io.WriteString(out, "applied "+name+"\n")
	}
	return nil
}
