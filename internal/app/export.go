package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"coco-alerts/internal/storage"
)

// Export renders hourly notification volume as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	from, to, err := exportWindow(opts, time.Now().UTC())
	if err != nil {
		return err
	}

	counts, err := store.HourlyNotificationCounts(ctx, from, to, int(to.Sub(from)/time.Hour)+1)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		a.Logger.Info().Msg("no notifications found for export window")
		return nil
	}

	downsampled := downsample(counts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(counts)).Int("exported", len(downsampled)).Msg("exporting hourly counts")

	if opts.CSVPath != "" {
		if err := writeCountsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeCountsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

const defaultExportWindow = 7 * 24 * time.Hour

// exportWindow defaults to the week before now.
func exportWindow(opts ExportOptions, now time.Time) (time.Time, time.Time, error) {
	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsample(counts []storage.HourlyCount, max int) []storage.HourlyCount {
	if max <= 1 || len(counts) <= max {
		return counts
	}

	result := make([]storage.HourlyCount, 0, max)
	step := float64(len(counts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(counts) {
			idx = len(counts) - 1
		}
		result = append(result, counts[idx])
	}
	return result
}

func writeCountsCSV(path string, counts []storage.HourlyCount) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"hour", "notifications_sent"}); err != nil {
		return err
	}
	for _, c := range counts {
		if err := writer.Write([]string{c.Hour.UTC().Format(time.RFC3339), strconv.FormatInt(c.Count, 10)}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeCountsPNG(path string, counts []storage.HourlyCount) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	// go-chart needs at least two points to draw a series.
	if len(counts) == 1 {
		counts = append(counts, storage.HourlyCount{Hour: counts[0].Hour.Add(time.Hour)})
	}

	x := make([]time.Time, len(counts))
	y := make([]float64, len(counts))
	for i, c := range counts {
		x[i] = c.Hour
		y[i] = float64(c.Count)
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeHourValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Notifications sent",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Sent per hour",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
