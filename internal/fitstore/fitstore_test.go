package fitstore

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldera-data/oscillation.report/internal/fit"
)

const migrationsDir = "../../db/migrations"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fits.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.MigrateUp(migrationsDir))
	return s
}

func sampleResult() *fit.Result {
	return &fit.Result{
		Metric:         "chi2",
		BestFit:        map[string]float64{"theta23": 0.78, "deltam31": 2.5e-3},
		MetricValue:    12.34,
		Minimized:      12.34,
		NumEvaluations: 321,
		Converged:      true,
		OctantFlipped:  true,
		Duration:       1500 * time.Millisecond,
	}
}

func TestRecordAndGetFitRun(t *testing.T) {
	s := openTestStore(t)

	runID, err := s.RecordFit("deepcore+upgrade", sampleResult())
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	got, err := s.GetFitRun(runID)
	require.NoError(t, err)
	assert.Equal(t, "deepcore+upgrade", got.Model)
	assert.Equal(t, "chi2", got.Metric)
	assert.Equal(t, 12.34, got.MetricValue)
	assert.True(t, got.Converged)
	assert.True(t, got.OctantFlipped)
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.Equal(t, 321, got.NumEvaluations)
	assert.Equal(t, 0.78, got.BestFit["theta23"])
	assert.False(t, got.CreatedAt.IsZero(), "created_at not parsed")
}

func TestParseCreatedAt(t *testing.T) {
	ts, err := parseCreatedAt("2026-08-26 14:03:07")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())

	ts, err = parseCreatedAt("2026-08-26T14:03:07Z")
	require.NoError(t, err)
	assert.Equal(t, 3, ts.Minute())

	_, err = parseCreatedAt("yesterday-ish")
	assert.Error(t, err, "unparseable created_at must surface, not zero out")
}

func TestFitRunsListsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.RecordFit("deepcore", sampleResult())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := s.FitRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	seen := map[string]bool{}
	for _, r := range runs {
		seen[r.RunID] = true
	}
	for _, id := range ids {
		assert.True(t, seen[id], "run %s missing from listing", id)
	}
}

func TestRecordScanRoundTrip(t *testing.T) {
	s := openTestStore(t)
	runID, err := s.RecordFit("deepcore", sampleResult())
	require.NoError(t, err)

	values := []float64{0.6, 0.7, 0.8}
	results := []float64{3.2, 0.1, 2.7}
	require.NoError(t, s.RecordScan(runID, "theta23", values, results))

	gotV, gotR, err := s.ScanPoints(runID, "theta23")
	require.NoError(t, err)
	assert.Equal(t, values, gotV)
	assert.Equal(t, results, gotR)

	assert.Error(t, s.RecordScan(runID, "theta23", values, results[:1]),
		"RecordScan accepted mismatched lengths")
}

func TestMigrateVersionAndDown(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion(migrationsDir)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	require.NoError(t, s.MigrateDown(migrationsDir))
	version, _, err = s.MigrateVersion(migrationsDir)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestBackup(t *testing.T) {
	s := openTestStore(t)
	_, err := s.RecordFit("deepcore", sampleResult())
	require.NoError(t, err)

	backupPath := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, s.Backup(backupPath))
	info, err := os.Stat(backupPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	restored, err := Open(backupPath)
	require.NoError(t, err)
	defer restored.Close()
	runs, err := restored.FitRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestAttachAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	req := httptest.NewRequest("GET", "/debug/", nil)
	_, pattern := mux.Handler(req)
	assert.NotEmpty(t, pattern, "no handler registered for /debug/")
}
