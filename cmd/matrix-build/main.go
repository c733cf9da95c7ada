// Build the Master Matrix from analyzer monthly files: full rebuild by
// default, partial rebuild when -streams is given.
//
// Usage:
//
//	go run cmd/matrix-build/main.go [-streams ES1,NQ1]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"matrixcore/internal/checkpoint"
	"matrixcore/internal/config"
	"matrixcore/internal/domain"
	"matrixcore/internal/loader"
	"matrixcore/internal/matrix"
	"matrixcore/internal/runlog"
	"matrixcore/internal/timetable"
	"matrixcore/internal/util"
)

func main() {
	streams := flag.String("streams", "", "comma-separated streams for a partial rebuild (empty = full rebuild)")
	startDate := flag.String("start", "", "inclusive start date YYYY-MM-DD")
	endDate := flag.String("end", "", "inclusive end date YYYY-MM-DD")
	date := flag.String("date", "", "build a single date YYYY-MM-DD (written as master_matrix_today_<date>)")
	flag.Parse()

	cfgPath := "config/matrix.yaml"
	if p := os.Getenv("MATRIX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	runs, err := runlog.New(cfg.Paths.StateDir, logger)
	if err != nil {
		log.Fatalf("failed to open run history: %v", err)
	}
	defer runs.Close()

	tb := timetable.New(cfg.Paths.TimetableDir, cfg.Timetable.Instruments, logger)
	engine := matrix.NewEngine(
		cfg,
		loader.New(cfg.Paths.AnalyzerRunsDir, logger),
		matrix.NewStore(cfg.Paths.OutputDir, tb, logger),
		checkpoint.New(cfg.Paths.StateDir, logger),
		runs,
		logger,
	)

	opts := matrix.BuildOptions{
		StartDate:    parseDate(*startDate),
		EndDate:      parseDate(*endDate),
		SpecificDate: parseDate(*date),
	}
	if *streams != "" {
		opts.Streams = strings.Split(*streams, ",")
		for i := range opts.Streams {
			opts.Streams[i] = strings.TrimSpace(opts.Streams[i])
		}
	}

	res, err := engine.Build(context.Background(), opts)
	if err != nil {
		log.Fatalf("matrix build failed: %v", err)
	}
	logger.Info("matrix build done",
		"matrix", res.MatrixPath,
		"checkpoint_id", res.CheckpointID,
		"rows_read", res.RowsRead,
		"rows_written", res.RowsWritten,
		"duration", res.Duration.String(),
	)
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		log.Fatalf("invalid date %q (want YYYY-MM-DD): %v", s, err)
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}
