// Package executor runs the fetch-then-export flow for each configured table
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"airtablecollector/csv"
	"airtablecollector/models"
)

// Fetcher returns every record of a table
type Fetcher interface {
	ListRecords(ctx context.Context, tableID string, opts models.ListOptions) ([]models.Record, error)
}

// Options controls how exports are run
type Options struct {
	Workers         int
	StagingDir      string
	HeaderPolicy    models.HeaderPolicy
	IncludeRecordID bool
	// Now is the clock used to date export files; defaults to time.Now
	Now    func() time.Time
	Logger *slog.Logger
}

// Outcome is what happened to a single export
type Outcome struct {
	Export   models.Export
	Records  []models.Record
	Result   csv.Result
	Started  time.Time
	Duration time.Duration
}

// ExecutionResult represents the aggregated results of a run
type ExecutionResult struct {
	Outcomes   []Outcome
	ErrorCount int
}

// Run fetches and exports every table in exports.
// A fetch failure stops the run and is returned; export failures are logged,
// counted and the run carries on.
func Run(ctx context.Context, fetcher Fetcher, exports []models.Export, opts Options) (ExecutionResult, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	outcomes := make([]Outcome, len(exports))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i, export := range exports {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			started := opts.Now()
			log := logger.With(
				slog.String("export", export.Label()),
				slog.String("table_id", export.TableID))

			log.Info("Fetching records")
			records, err := fetcher.ListRecords(gctx, export.TableID, export.ListOptions)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", export.Label(), err)
			}
			log.Info("Fetched records", slog.Int("record_count", len(records)))

			result := csv.ExportRecords(records, models.WriteOptions{
				Directory:       export.OutputPath,
				StagingDir:      opts.StagingDir,
				Date:            started,
				HeaderPolicy:    opts.HeaderPolicy,
				IncludeRecordID: opts.IncludeRecordID,
			})
			logResult(log, result)

			outcomes[i] = Outcome{
				Export:   export,
				Records:  records,
				Result:   result,
				Started:  started,
				Duration: opts.Now().Sub(started),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return ExecutionResult{}, err
	}

	errorCount := 0
	for _, o := range outcomes {
		if !o.Result.OK() {
			errorCount++
		}
	}
	if errorCount > 0 {
		logger.Warn("Encountered export errors", slog.Int("error_count", errorCount))
	}

	return ExecutionResult{Outcomes: outcomes, ErrorCount: errorCount}, nil
}

func logResult(log *slog.Logger, result csv.Result) {
	switch result.Status {
	case csv.StatusSuccess:
		log.Info("Data written to CSV file",
			slog.String("path", result.Path),
			slog.Int("rows", result.Rows))
		if result.Dropped > 0 {
			log.Warn("Dropped fields missing from header", slog.Int("dropped", result.Dropped))
		}
	case csv.StatusEmptyInput:
		log.Warn("not enough records: "+result.Err.Error(),
			slog.String("status", result.Status.String()))
	default:
		log.Error("not enough records: "+result.Err.Error(),
			slog.String("status", result.Status.String()))
	}
}
