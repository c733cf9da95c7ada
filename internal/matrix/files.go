package matrix

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"matrixcore/internal/domain"
	"matrixcore/internal/timetable"
)

// snapshotFileRe matches full-coverage matrix snapshots. Specific-date
// "today" files are single-day exports and never count as the latest matrix.
var snapshotFileRe = regexp.MustCompile(`^master_matrix_\d{8}_\d{6}\.parquet$`)

// Store persists Master Matrix files and triggers the timetable rebuild
// after every successful save.
type Store struct {
	dir       string
	timetable *timetable.Builder // nil disables the trigger
	log       *slog.Logger

	now func() time.Time // injectable for tests
}

// NewStore creates a Store writing into outDir.
func NewStore(outDir string, tb *timetable.Builder, log *slog.Logger) *Store {
	return &Store{
		dir:       outDir,
		timetable: tb,
		log:       log.With("component", "matrix-store"),
		now:       time.Now,
	}
}

// Save atomically writes the matrix as a parquet file plus a JSON twin and
// then regenerates the timetable. A timetable failure is logged, never
// propagated: the matrix save already succeeded. Returns the parquet path.
func (s *Store) Save(rows []domain.ChosenRow, specificDate *time.Time) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	base := "master_matrix_" + s.now().UTC().Format("20060102_150405")
	if specificDate != nil {
		base = "master_matrix_today_" + specificDate.Format("20060102")
	}

	records := make([]Record, len(rows))
	for i := range rows {
		records[i] = ToRecord(rows[i])
	}

	pqPath := filepath.Join(s.dir, base+".parquet")
	if err := writeParquetAtomic(pqPath, records); err != nil {
		return "", err
	}
	if err := s.writeJSONTwin(filepath.Join(s.dir, base+".json"), records); err != nil {
		return "", err
	}

	s.log.Info("master matrix saved", "file", base+".parquet", "rows", len(rows))

	if s.timetable != nil {
		if err := s.buildTimetable(rows); err != nil {
			s.log.Error("timetable rebuild failed after matrix save", "error", err)
		}
	}
	return pqPath, nil
}

func (s *Store) buildTimetable(rows []domain.ChosenRow) error {
	tt := s.timetable.Build(rows, time.Time{})
	return s.timetable.Write(tt)
}

func writeParquetAtomic(path string, records []Record) error {
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing matrix parquet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming matrix parquet: %w", err)
	}
	return nil
}

func (s *Store) writeJSONTwin(path string, records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling matrix json: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing matrix json: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming matrix json: %w", err)
	}
	return nil
}

// LoadLatest reads the most recent matrix file back into chosen rows. The
// newest file wins by modification time, with the name as tie-break. Returns
// nil rows and an empty path when no matrix exists yet.
func (s *Store) LoadLatest() ([]domain.ChosenRow, string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("reading output dir: %w", err)
	}

	type candidate struct {
		name  string
		mtime time.Time
	}
	var cands []candidate
	for _, e := range entries {
		if e.IsDir() || !snapshotFileRe.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			s.log.Warn("stat on matrix file", "file", e.Name(), "error", err)
			continue
		}
		cands = append(cands, candidate{name: e.Name(), mtime: info.ModTime()})
	}
	if len(cands) == 0 {
		return nil, "", nil
	}

	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].mtime.Equal(cands[j].mtime) {
			return cands[i].mtime.After(cands[j].mtime)
		}
		return cands[i].name > cands[j].name
	})

	path := filepath.Join(s.dir, cands[0].name)
	records, err := parquet.ReadFile[Record](path)
	if err != nil {
		return nil, "", fmt.Errorf("reading matrix %s: %w", cands[0].name, err)
	}

	rows := make([]domain.ChosenRow, 0, len(records))
	for _, rec := range records {
		row, err := FromRecord(rec)
		if err != nil {
			return nil, "", fmt.Errorf("matrix %s: %w", cands[0].name, err)
		}
		rows = append(rows, row)
	}
	return rows, path, nil
}
