package matrix

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matrixcore/internal/domain"
	"matrixcore/internal/timetable"
)

func TestStoreSaveAndLoadLatest(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, nil, discard())

	rows := []domain.ChosenRow{sampleRow()}
	path, err := s.Save(rows, nil)
	require.NoError(t, err)
	require.FileExists(t, path)

	loaded, loadedPath, err := s.LoadLatest()
	require.NoError(t, err)
	require.Equal(t, path, loadedPath)
	require.Equal(t, rows, loaded)

	// A later save becomes the new latest.
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	rows2 := append(rows, sampleRow())
	path2, err := s.Save(rows2, nil)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(path2, time.Now().Add(time.Minute), time.Now().Add(time.Minute)))

	loaded2, _, err := s.LoadLatest()
	require.NoError(t, err)
	require.Len(t, loaded2, 2)
}

func TestStoreSaveSpecificDate(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, nil, discard())

	d := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	path, err := s.Save([]domain.ChosenRow{sampleRow()}, &d)
	require.NoError(t, err)
	require.Equal(t, "master_matrix_today_20240308.parquet", filepath.Base(path))
	require.FileExists(t, filepath.Join(dir, "master_matrix_today_20240308.json"))
}

func TestStoreLoadLatestEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing"), nil, discard())
	rows, path, err := s.LoadLatest()
	require.NoError(t, err)
	require.Nil(t, rows)
	require.Empty(t, path)
}

func TestStoreTimetableFailureDoesNotFailSave(t *testing.T) {
	root := t.TempDir()
	// A file where the timetable directory should be makes its writes fail.
	blocked := filepath.Join(root, "timetable")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	tb := timetable.New(blocked, []string{"ES"}, discard())
	s := NewStore(filepath.Join(root, "matrix"), tb, discard())

	path, err := s.Save([]domain.ChosenRow{sampleRow()}, nil)
	require.NoError(t, err, "a timetable failure must not fail the matrix save")
	require.FileExists(t, path)
}
