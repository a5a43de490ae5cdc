package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"x402arcade/internal/storage"
)

const defaultReportDays = 30

// Report renders daily settlement volume as CSV and/or a PNG chart.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot build report")
	}
	if closeStore != nil {
		defer closeStore()
	}

	days := opts.Days
	if days <= 0 {
		days = defaultReportDays
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -days)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	volumes, err := store.DailyVolumes(ctx, from, to)
	if err != nil {
		return err
	}
	if len(volumes) == 0 {
		a.Logger.Info().Msg("no settlements in report window")
		return nil
	}

	a.Logger.Info().Int("days", len(volumes)).Msg("building report")

	if opts.CSVPath != "" {
		if err := writeVolumesCSV(opts.CSVPath, volumes); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeVolumesPNG(opts.PNGPath, volumes); err != nil {
			return err
		}
	}

	return nil
}

func writeVolumesCSV(path string, volumes []storage.DailyVolume) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"day", "settlements", "volume_atomic", "refunds"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, vol := range volumes {
		record := []string{
			vol.Day.UTC().Format("2006-01-02"),
			strconv.FormatInt(vol.Settlements, 10),
			vol.Volume.String(),
			strconv.FormatInt(vol.Refunds, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeVolumesPNG(path string, volumes []storage.DailyVolume) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(volumes))
	volume := make([]float64, len(volumes))
	settlements := make([]float64, len(volumes))

	for i, vol := range volumes {
		x[i] = vol.Day
		volume[i] = vol.Volume.InexactFloat64()
		settlements[i] = float64(vol.Settlements)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Volume (atomic units)",
			ValueFormatter: countFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Settlements",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Volume",
				XValues: x,
				YValues: volume,
			},
			chart.TimeSeries{
				Name:    "Settlements",
				XValues: x,
				YValues: settlements,
				YAxis:   chart.YAxisSecondary,
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
