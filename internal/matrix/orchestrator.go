package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"matrixcore/internal/checkpoint"
	"matrixcore/internal/config"
	"matrixcore/internal/discovery"
	"matrixcore/internal/domain"
	"matrixcore/internal/filters"
	"matrixcore/internal/loader"
	"matrixcore/internal/runlog"
	"matrixcore/internal/sequencer"
)

// Engine orchestrates matrix builds: load, sequence, filter, enforce, sort,
// persist, snapshot.
type Engine struct {
	cfg         *config.Config
	loader      *loader.Loader
	store       *Store
	checkpoints *checkpoint.Manager
	runs        *runlog.Log
	log         *slog.Logger
}

// NewEngine wires an Engine from its components. runs may be nil in tests
// that do not exercise run history.
func NewEngine(cfg *config.Config, ld *loader.Loader, store *Store, cps *checkpoint.Manager, runs *runlog.Log, log *slog.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		loader:      ld,
		store:       store,
		checkpoints: cps,
		runs:        runs,
		log:         log.With("component", "orchestrator"),
	}
}

// BuildOptions narrows a build's scope. The zero value is a full rebuild
// over every discovered stream's complete history.
type BuildOptions struct {
	// Streams limits the rebuild to the listed streams; rows of every other
	// stream are preserved from the existing matrix. Nil rebuilds everything.
	Streams []string

	// Optional date filters applied at load time. SpecificDate overrides the
	// range and routes the save to a master_matrix_today_<date> file.
	StartDate    *time.Time
	EndDate      *time.Time
	SpecificDate *time.Time
}

func (o BuildOptions) dateFiltered() bool {
	return o.StartDate != nil || o.EndDate != nil || o.SpecificDate != nil
}

// Result summarizes a successful build.
type Result struct {
	RunID        string
	MatrixPath   string
	CheckpointID string
	RowsRead     int64
	RowsWritten  int64
	Duration     time.Duration
}

// loadOptions translates configuration and build options into loader options.
func (e *Engine) loadOptions(opts BuildOptions) loader.Options {
	return loader.Options{
		StartDate:    opts.StartDate,
		EndDate:      opts.EndDate,
		SpecificDate: opts.SpecificDate,
		MaxRetries:   e.cfg.Loader.MaxRetries,
		RetryDelay:   time.Duration(e.cfg.Loader.RetryDelaySeconds) * time.Second,
		MaxWorkers:   e.cfg.Loader.MaxWorkers,
		Salvage:      e.cfg.Loader.AllowInvalidDates,
	}
}

// checkCritical enforces the critical-stream gate over loaded data: critical
// streams must be present and non-empty; other missing streams only warn.
// requireAllCritical additionally demands every configured critical stream,
// even ones discovery never saw.
func (e *Engine) checkCritical(requested []string, data map[string][]domain.AnalyzerRow, requireAllCritical bool) error {
	if requireAllCritical {
		for _, s := range e.cfg.Matrix.CriticalStreams {
			if len(data[s]) == 0 {
				return fmt.Errorf("%w: %s", domain.ErrMissingCriticalStream, s)
			}
		}
	}
	for _, s := range requested {
		if len(data[s]) > 0 {
			continue
		}
		if e.cfg.IsCritical(s) {
			return fmt.Errorf("%w: %s", domain.ErrMissingCriticalStream, s)
		}
		e.log.Warn("non-critical stream missing, proceeding without it", "stream", s)
	}
	return nil
}

func countRows(data map[string][]domain.AnalyzerRow) int64 {
	var n int64
	for _, rows := range data {
		n += int64(len(rows))
	}
	return n
}

func maxTradeDate(data map[string][]domain.AnalyzerRow) time.Time {
	var max time.Time
	for _, rows := range data {
		for i := range rows {
			if rows[i].TradeDate.After(max) {
				max = rows[i].TradeDate
			}
		}
	}
	return max
}

// record appends a run-history entry; failures to record never fail the
// build itself.
func (e *Engine) record(rec domain.RunRecord) {
	if e.runs == nil {
		return
	}
	if err := e.runs.Append(rec); err != nil {
		e.log.Error("appending run record", "run_id", rec.RunID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

// BuildFull rebuilds the Master Matrix from the complete analyzer history of
// every discovered stream, replaces the previous matrix, and writes a fresh
// checkpoint keyed on the last trading date.
func (e *Engine) BuildFull(ctx context.Context) (*Result, error) {
	return e.Build(ctx, BuildOptions{})
}

// BuildPartial reprocesses only the listed streams from their full history
// and merges the result with the existing matrix rows of every other stream.
// The checkpoint is not refreshed: partial output does not cover all streams.
func (e *Engine) BuildPartial(ctx context.Context, streams []string) (*Result, error) {
	return e.Build(ctx, BuildOptions{Streams: streams})
}

// Build runs one matrix build per the options and records a run-history
// entry whether it succeeds or fails.
func (e *Engine) Build(ctx context.Context, opts BuildOptions) (*Result, error) {
	start := time.Now()
	mode := domain.ModeFullRebuild
	if len(opts.Streams) > 0 {
		mode = domain.ModePartialRebuild
	}
	rec := domain.RunRecord{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Timestamp: start.UTC(),
	}

	res, err := e.build(ctx, opts, &rec)
	rec.DurationSeconds = time.Since(start).Seconds()
	rec.Success = err == nil
	if err != nil {
		rec.ErrorMessage = err.Error()
	}
	e.record(rec)

	if err != nil {
		return nil, err
	}
	res.RunID = rec.RunID
	res.Duration = time.Since(start)
	return res, nil
}

func (e *Engine) build(ctx context.Context, opts BuildOptions, rec *domain.RunRecord) (*Result, error) {
	partial := len(opts.Streams) > 0

	streams := opts.Streams
	if !partial {
		streams = discovery.Streams(e.cfg.Paths.AnalyzerRunsDir, e.log)
		if len(streams) == 0 {
			return nil, fmt.Errorf("no analyzer streams discovered under %s", e.cfg.Paths.AnalyzerRunsDir)
		}
	}

	// Partial rebuilds merge into the existing matrix: rows of streams not
	// being rebuilt are preserved untouched, filter annotations included.
	var preserved []domain.ChosenRow
	if partial {
		existing, existingPath, err := e.store.LoadLatest()
		if err != nil {
			return nil, fmt.Errorf("loading existing matrix: %w", err)
		}
		if existingPath == "" {
			return nil, fmt.Errorf("partial rebuild requires an existing master matrix; run a full rebuild first")
		}
		rebuild := make(map[string]bool, len(streams))
		for _, s := range streams {
			rebuild[s] = true
		}
		for i := range existing {
			if !rebuild[existing[i].Stream] {
				preserved = append(preserved, existing[i])
			}
		}
	}

	data, err := e.loader.Load(ctx, streams, e.loadOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("loading analyzer data: %w", err)
	}
	if err := e.checkCritical(streams, data, !partial); err != nil {
		return nil, err
	}
	rec.RowsRead = countRows(data)
	if rec.RowsRead == 0 {
		return nil, fmt.Errorf("no analyzer rows loaded from %s", e.cfg.Paths.AnalyzerRunsDir)
	}
	rec.MergedDataMaxDate = maxTradeDate(data).Format(domain.DateLayout)

	chosen, states, err := sequencer.RunStreams(ctx, sequencer.RunInput{
		Data:          data,
		StreamFilters: e.cfg.StreamFilters,
		DisplayYear:   e.cfg.Matrix.DisplayYear,
		Parallel:      true,
	}, e.log)
	if err != nil {
		return nil, err
	}

	final, err := e.finalize(chosen, preserved)
	if err != nil {
		return nil, err
	}
	rec.RowsWritten = int64(len(final))

	path, err := e.store.Save(final, opts.SpecificDate)
	if err != nil {
		return nil, err
	}

	res := &Result{MatrixPath: path, RowsRead: rec.RowsRead, RowsWritten: rec.RowsWritten}

	// Only an unbounded full rebuild yields sequencer states that cover
	// every stream's complete history; anything narrower must not move the
	// checkpoint.
	if !partial && !opts.dateFiltered() {
		cpID, err := e.checkpoints.Create(maxTradeDate(data).Format(domain.DateLayout), states)
		if err != nil {
			return nil, fmt.Errorf("creating checkpoint: %w", err)
		}
		res.CheckpointID = cpID
	}

	e.log.Info("matrix build complete",
		"mode", rec.Mode,
		"streams", len(data),
		"rows_preserved", len(preserved),
		"rows_written", len(final),
	)
	return res, nil
}

// finalize runs the shared tail of every build: filter annotation, Time
// snapshot verification, selectable re-check, canonical sort, and ID
// assignment. preserved rows (from an earlier matrix) are concatenated ahead
// of the fresh slice before sorting.
func (e *Engine) finalize(fresh []domain.ChosenRow, preserved []domain.ChosenRow) ([]domain.ChosenRow, error) {
	snapshot := snapshotTimes(fresh)

	fresh = filters.Apply(fresh, e.cfg.StreamFilters, e.log)
	if err := checkSelectable(fresh, e.cfg.StreamFilters); err != nil {
		return nil, err
	}

	all := make([]domain.ChosenRow, 0, len(preserved)+len(fresh))
	all = append(all, preserved...)
	all = append(all, fresh...)

	sortCanonical(all)

	if err := verifyTimes(all, snapshot); err != nil {
		return nil, err
	}
	return all, nil
}
