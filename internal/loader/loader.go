// Package loader reads per-stream monthly analyzer parquet files and
// enforces the trade-date contract before rows reach the sequencer.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"matrixcore/internal/domain"
	"matrixcore/internal/slots"
	"matrixcore/internal/util"
)

// AnalyzerRecord is the parquet schema of analyzer monthly files
// (<stream>_an_<YYYY>_<MM>.parquet). Column names follow the analyzer
// output contract.
type AnalyzerRecord struct {
	Date       string   `parquet:"Date" json:"Date"`
	Time       string   `parquet:"Time" json:"Time"`
	Session    string   `parquet:"Session" json:"Session"`
	Instrument string   `parquet:"Instrument" json:"Instrument"`
	Stream     string   `parquet:"Stream,optional" json:"Stream"`
	Direction  string   `parquet:"Direction,optional" json:"Direction"`
	Result     string   `parquet:"Result" json:"Result"`
	Target     float64  `parquet:"Target" json:"Target"`
	Range      float64  `parquet:"Range" json:"Range"`
	Peak       float64  `parquet:"Peak" json:"Peak"`
	Profit     float64  `parquet:"Profit" json:"Profit"`
	StopLoss   *float64 `parquet:"StopLoss,optional" json:"StopLoss,omitempty"`
	SCFS1      *float64 `parquet:"scf_s1,optional" json:"scf_s1,omitempty"`
	SCFS2      *float64 `parquet:"scf_s2,optional" json:"scf_s2,omitempty"`
	ONR        *float64 `parquet:"onr,optional" json:"onr,omitempty"`
	ONRHigh    *float64 `parquet:"onr_high,optional" json:"onr_high,omitempty"`
	ONRLow     *float64 `parquet:"onr_low,optional" json:"onr_low,omitempty"`
}

// yearDirRe matches year subdirectories; date-named daily folders
// (YYYY-MM-DD) are skipped by construction.
var yearDirRe = regexp.MustCompile(`^\d{4}$`)

// dateLayouts are the accepted on-disk forms of the Date column, tried in
// order.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Options controls a load pass.
type Options struct {
	StartDate    *time.Time // inclusive
	EndDate      *time.Time // inclusive
	SpecificDate *time.Time // exact-day filter; overrides Start/End

	MaxRetries int           // retry passes for streams with no usable files
	RetryDelay time.Duration // fixed delay between passes
	MaxWorkers int           // 0 = min(numStreams, 2*CPU)

	// Salvage drops rows with invalid trade dates instead of aborting.
	Salvage bool
}

// Loader reads analyzer monthly files for a set of streams.
type Loader struct {
	dir string
	log *slog.Logger
}

// New creates a Loader rooted at the analyzer runs directory.
func New(analyzerRunsDir string, log *slog.Logger) *Loader {
	return &Loader{dir: analyzerRunsDir, log: log.With("component", "loader")}
}

// Load reads all monthly files for the given streams in parallel and
// returns rows keyed by stream, each slice sorted by (trade date, slot).
// Streams that yield no rows after all retry passes are absent from the
// result; criticality is the caller's concern.
func (l *Loader) Load(ctx context.Context, streams []string, opts Options) (map[string][]domain.AnalyzerRow, error) {
	if len(streams) == 0 {
		return map[string][]domain.AnalyzerRow{}, nil
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = min(len(streams), 2*runtime.NumCPU())
	}

	var mu sync.Mutex
	result := make(map[string][]domain.AnalyzerRow, len(streams))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, stream := range streams {
		stream := stream
		g.Go(func() error {
			var rows []domain.AnalyzerRow
			err := util.Retry(gctx, maxRetries, opts.RetryDelay, func() error {
				var loadErr error
				rows, loadErr = l.loadStream(stream, opts)
				if loadErr != nil {
					return loadErr
				}
				if len(rows) == 0 {
					return fmt.Errorf("no usable files for stream %s", stream)
				}
				return nil
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Contract violations abort the build; empty streams do not.
				if isContract(err) {
					return err
				}
				l.log.Warn("stream has no usable data", "stream", stream, "error", err)
				return nil
			}

			mu.Lock()
			result[stream] = rows
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func isContract(err error) bool {
	return errors.Is(err, domain.ErrContract)
}

// loadStream reads every monthly file of one stream, repairs the Stream
// column from the filename when absent, validates trade dates, and applies
// the date filters.
func (l *Loader) loadStream(stream string, opts Options) ([]domain.AnalyzerRow, error) {
	files, err := l.monthlyFiles(stream)
	if err != nil {
		return nil, err
	}

	var rows []domain.AnalyzerRow
	for _, path := range files {
		records, err := parquet.ReadFile[AnalyzerRecord](path)
		if err != nil {
			l.log.Warn("reading monthly file", "stream", stream, "file", filepath.Base(path), "error", err)
			continue
		}

		converted, err := l.convert(stream, path, records, opts.Salvage)
		if err != nil {
			return nil, err
		}
		rows = append(rows, converted...)
	}

	rows = filterDates(rows, opts)

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].TradeDate.Equal(rows[j].TradeDate) {
			return rows[i].TradeDate.Before(rows[j].TradeDate)
		}
		return slots.Before(rows[i].Time, rows[j].Time)
	})
	return rows, nil
}

// monthlyFiles returns the sorted monthly consolidated files of a stream:
// <dir>/<stream>/<YYYY>/<stream>_an_<YYYY>_<MM>.parquet.
func (l *Loader) monthlyFiles(stream string) ([]string, error) {
	streamDir := filepath.Join(l.dir, stream)
	entries, err := os.ReadDir(streamDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading stream dir %s: %w", stream, err)
	}

	fileRe := regexp.MustCompile(`^` + regexp.QuoteMeta(stream) + `_an_\d{4}_\d{2}\.parquet$`)

	var files []string
	for _, e := range entries {
		if !e.IsDir() || !yearDirRe.MatchString(e.Name()) {
			continue
		}
		yearDir := filepath.Join(streamDir, e.Name())
		inner, err := os.ReadDir(yearDir)
		if err != nil {
			l.log.Warn("reading year dir", "stream", stream, "year", e.Name(), "error", err)
			continue
		}
		for _, f := range inner {
			if !f.IsDir() && fileRe.MatchString(f.Name()) {
				files = append(files, filepath.Join(yearDir, f.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// convert maps parquet records to domain rows, enforcing the trade-date
// contract. Invalid dates abort unless salvage is enabled, in which case
// they are dropped and logged with samples.
func (l *Loader) convert(stream, path string, records []AnalyzerRecord, salvage bool) ([]domain.AnalyzerRow, error) {
	rows := make([]domain.AnalyzerRow, 0, len(records))
	var invalid []string

	for _, rec := range records {
		date, ok := parseDate(rec.Date)
		if !ok {
			invalid = append(invalid, rec.Date)
			continue
		}

		st := rec.Stream
		if st == "" {
			st = stream
		}
		instrument := rec.Instrument
		if instrument == "" {
			instrument = strings.TrimRight(st, "0123456789")
		}

		rows = append(rows, domain.AnalyzerRow{
			TradeDate:  date,
			Time:       slots.Normalize(rec.Time),
			Session:    rec.Session,
			Instrument: instrument,
			Stream:     st,
			Direction:  rec.Direction,
			Result:     rec.Result,
			Target:     rec.Target,
			Range:      rec.Range,
			Peak:       rec.Peak,
			Profit:     rec.Profit,
			StopLoss:   rec.StopLoss,
			SCFS1:      rec.SCFS1,
			SCFS2:      rec.SCFS2,
			ONR:        rec.ONR,
			ONRHigh:    rec.ONRHigh,
			ONRLow:     rec.ONRLow,
		})
	}

	if len(invalid) > 0 {
		samples := invalid
		if len(samples) > 5 {
			samples = samples[:5]
		}
		if !salvage {
			return nil, fmt.Errorf("%w: stream %s file %s has %d invalid trade_date values (samples %v)",
				domain.ErrContract, stream, filepath.Base(path), len(invalid), samples)
		}
		l.log.Warn("dropping rows with invalid trade dates",
			"stream", stream,
			"file", filepath.Base(path),
			"dropped", len(invalid),
			"samples", samples,
		)
	}

	return rows, nil
}

// parseDate parses the analyzer Date column into a UTC-midnight trading
// date.
func parseDate(s string) (time.Time, bool) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func filterDates(rows []domain.AnalyzerRow, opts Options) []domain.AnalyzerRow {
	if opts.SpecificDate == nil && opts.StartDate == nil && opts.EndDate == nil {
		return rows
	}

	out := rows[:0]
	for _, r := range rows {
		if opts.SpecificDate != nil {
			if r.TradeDate.Equal(*opts.SpecificDate) {
				out = append(out, r)
			}
			continue
		}
		if opts.StartDate != nil && r.TradeDate.Before(*opts.StartDate) {
			continue
		}
		if opts.EndDate != nil && r.TradeDate.After(*opts.EndDate) {
			continue
		}
		out = append(out, r)
	}
	return out
}
