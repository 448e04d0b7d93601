package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"airtablecollector/airtable"
	"airtablecollector/config"
	"airtablecollector/database"
	"airtablecollector/executor"
	"airtablecollector/logging"
	"airtablecollector/metrics"
	"airtablecollector/report"
)

type runOptions struct {
	EnvFile  string
	Workload string
	Bundle   bool
	Output   io.Writer
	Now      func() time.Time
}

func main() {
	// Define and parse command-line flags
	// Airtable credentials come from the environment or the .env file
	envFile := flag.String("env", ".env", "File to load environment variables from")
	workload := flag.String("workload", "", "Workload file (JSON or YAML) listing tables to export")
	bundle := flag.Bool("bundle", false, "Zip the exported CSV files after the run")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, runOptions{
		EnvFile:  *envFile,
		Workload: *workload,
		Bundle:   *bundle,
		Output:   os.Stdout,
		Now:      time.Now,
	})
	stop()
	os.Exit(code)
}

func run(ctx context.Context, opts runOptions) int {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cfg, err := config.Load(opts.Workload, opts.EnvFile)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		return 1
	}

	logger, cleanup := logging.SetupLogger(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		SeqURL: cfg.Logging.SeqURL,
		Output: opts.Output,
	})
	defer cleanup()

	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))

	// Log start time
	startTime := opts.Now()
	logger.Info("Starting data collection",
		slog.String("started_at", startTime.Format(time.RFC3339)),
		slog.String("base_id", cfg.BaseID),
		slog.Int("exports", len(cfg.Exports)))

	client := airtable.NewClient(cfg.BaseID, cfg.APIKey,
		airtable.WithBaseURL(cfg.Airtable.APIURL),
		airtable.WithTimeout(cfg.Airtable.Timeout),
		airtable.WithRateLimit(cfg.Airtable.RateLimit),
		airtable.WithPageSize(cfg.Airtable.PageSize),
		airtable.WithLogger(logger))

	result, err := executor.Run(ctx, client, cfg.Exports, executor.Options{
		Workers:         cfg.Export.Workers,
		StagingDir:      cfg.Export.StagingDir,
		HeaderPolicy:    cfg.HeaderPolicy(),
		IncludeRecordID: cfg.Export.IncludeRecordID,
		Now:             opts.Now,
		Logger:          logger,
	})
	if err != nil {
		attrs := []any{slog.Any("error", err)}
		var apiErr *airtable.APIError
		if errors.As(err, &apiErr) {
			attrs = append(attrs,
				slog.Int("http_status", apiErr.StatusCode),
				slog.Bool("temporary", apiErr.Temporary()))
		}
		logger.Error("Data collection failed", attrs...)
		return 1
	}

	if cfg.Ledger.Enabled() {
		writeLedger(logger, cfg.Ledger, runID, result.Outcomes)
	}
	if cfg.MetricsTextfile != "" {
		writeMetrics(logger, cfg.MetricsTextfile, result.Outcomes)
	}
	if cfg.Report.BalanceField != "" {
		logSummaries(logger, cfg.Report, result.Outcomes)
	}
	if opts.Bundle {
		writeBundle(logger, cfg.Report, startTime, result.Outcomes)
	}

	// Calculate elapsed time
	logger.Info("Process completed",
		slog.Duration("elapsed", opts.Now().Sub(startTime)),
		slog.Int("error_count", result.ErrorCount))
	return 0
}

func writeLedger(logger *slog.Logger, lc config.LedgerConfig, runID string, outcomes []executor.Outcome) {
	db, err := database.Connect(database.Config{
		Type:     lc.Type,
		Host:     lc.Host,
		Port:     lc.Port,
		User:     lc.User,
		Password: lc.Password,
		Database: lc.Name,
		SSLMode:  lc.SSLMode,
	})
	if err != nil {
		logger.Error("Failed to connect to ledger", slog.Any("error", err))
		return
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		logger.Error("Failed to migrate ledger", slog.Any("error", err))
		return
	}
	if err := database.RecordRuns(db, ledgerRuns(runID, outcomes)); err != nil {
		logger.Error("Failed to record export runs", slog.Any("error", err))
		return
	}
	logger.Info("Recorded export runs", slog.Int("count", len(outcomes)))
}

func ledgerRuns(runID string, outcomes []executor.Outcome) []database.ExportRun {
	runs := make([]database.ExportRun, 0, len(outcomes))
	for _, o := range outcomes {
		run := database.ExportRun{
			RunID:      runID,
			Name:       o.Export.Label(),
			TableID:    o.Export.TableID,
			OutputPath: o.Export.OutputPath,
			FilePath:   o.Result.Path,
			Status:     o.Result.Status.String(),
			Records:    len(o.Records),
			Rows:       o.Result.Rows,
			Dropped:    o.Result.Dropped,
			StartedAt:  o.Started,
			FinishedAt: o.Started.Add(o.Duration),
		}
		if o.Result.Err != nil {
			run.Error = o.Result.Err.Error()
		}
		runs = append(runs, run)
	}
	return runs
}

func writeMetrics(logger *slog.Logger, path string, outcomes []executor.Outcome) {
	recorder := metrics.NewRecorder()
	for _, o := range outcomes {
		recorder.Observe(metrics.Observation{
			Export:   o.Export.Label(),
			TableID:  o.Export.TableID,
			Records:  len(o.Records),
			Rows:     o.Result.Rows,
			Seconds:  o.Duration.Seconds(),
			Finished: o.Started.Add(o.Duration).Unix(),
			Status:   o.Result.Status.String(),
			OK:       o.Result.OK(),
		})
	}
	if err := recorder.WriteTextfile(path); err != nil {
		logger.Error("Failed to write metrics", slog.Any("error", err))
	}
}

func logSummaries(logger *slog.Logger, rc config.ReportConfig, outcomes []executor.Outcome) {
	for _, o := range outcomes {
		if rc.BalanceExport != "" && o.Export.Label() != rc.BalanceExport {
			continue
		}
		s := report.Summarize(o.Records, rc.BalanceField)
		logger.Info("Balance summary",
			slog.String("export", o.Export.Label()),
			slog.String("field", rc.BalanceField),
			slog.Int("records", s.Records),
			slog.Int("negative", s.Negative),
			slog.String("total", s.FormatTotal()),
			slog.Int("skipped", s.Skipped))
	}
}

func writeBundle(logger *slog.Logger, rc config.ReportConfig, date time.Time, outcomes []executor.Outcome) {
	var entries []report.Entry
	for _, o := range outcomes {
		if o.Result.OK() {
			entries = append(entries, report.Entry{Name: o.Export.Label() + ".csv", Path: o.Result.Path})
		}
	}
	if len(entries) == 0 {
		logger.Warn("No exported files to bundle")
		return
	}

	dest := filepath.Join(rc.BundleDir, report.BundleName(rc.BundlePrefix, date))
	if err := report.Bundle(dest, entries); err != nil {
		logger.Error("Failed to write bundle", slog.Any("error", err))
		return
	}
	logger.Info("Bundle written", slog.String("path", dest), slog.Int("files", len(entries)))
}
