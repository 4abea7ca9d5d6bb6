// Package fitstore persists fit runs and parameter scans to SQLite so
// results survive the process and can be inspected over the admin
// surface. Schema changes are applied with golang-migrate from the
// db/migrations directory.
package fitstore

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/caldera-data/oscillation.report/internal/fit"
	"github.com/caldera-data/oscillation.report/internal/monitoring"
)

type Store struct {
	*sql.DB
	path string
}

// Open opens (or creates) the fit results database. Run MigrateUp
// before recording anything.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open fit store %q: %w", path, err)
	}
	return &Store{DB: db, path: path}, nil
}

// FitRun is one stored hypothesis fit.
type FitRun struct {
	RunID          string             `json:"run_id"`
	Model          string             `json:"model"`
	Metric         string             `json:"metric"`
	MetricValue    float64            `json:"metric_value"`
	Converged      bool               `json:"converged"`
	OctantFlipped  bool               `json:"octant_flipped"`
	NumEvaluations int                `json:"num_evaluations"`
	DurationMs     int64              `json:"duration_ms"`
	BestFit        map[string]float64 `json:"best_fit"`
	CreatedAt      time.Time          `json:"created_at"`
}

// RecordFit stores a fit result under a fresh run ID and returns it.
func (s *Store) RecordFit(modelName string, res *fit.Result) (string, error) {
	bestFit, err := json.Marshal(res.BestFit)
	if err != nil {
		return "", fmt.Errorf("encode best-fit params: %w", err)
	}
	runID := uuid.New().String()
	_, err = s.Exec(
		`INSERT INTO fit_runs (
			run_id, model, metric, metric_value, converged, octant_flipped,
			num_evaluations, duration_ms, best_fit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, modelName, res.Metric, res.MetricValue,
		boolInt(res.Converged), boolInt(res.OctantFlipped),
		res.NumEvaluations, res.Duration.Milliseconds(), string(bestFit),
	)
	if err != nil {
		return "", fmt.Errorf("insert fit run: %w", err)
	}
	return runID, nil
}

// RecordScan stores the points of a 1D parameter scan against a run.
func (s *Store) RecordScan(runID, param string, values, results []float64) error {
	if len(values) != len(results) {
		return fmt.Errorf("scan of %q: %d values but %d results", param, len(values), len(results))
	}
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO scan_points (run_id, param, value, metric_value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range values {
		if _, err := stmt.Exec(runID, param, values[i], results[i]); err != nil {
			return fmt.Errorf("insert scan point: %w", err)
		}
	}
	return tx.Commit()
}

// FitRuns lists the most recent runs, newest first.
func (s *Store) FitRuns(limit int) ([]FitRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Query(
		`SELECT run_id, model, metric, metric_value, converged, octant_flipped,
			num_evaluations, duration_ms, best_fit, created_at
		FROM fit_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []FitRun
	for rows.Next() {
		r, err := scanFitRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetFitRun fetches one run by ID.
func (s *Store) GetFitRun(runID string) (FitRun, error) {
	row := s.QueryRow(
		`SELECT run_id, model, metric, metric_value, converged, octant_flipped,
			num_evaluations, duration_ms, best_fit, created_at
		FROM fit_runs WHERE run_id = ?`, runID)
	return scanFitRun(row.Scan)
}

// ScanPoints returns the scan curve stored for a run and parameter,
// ordered by parameter value.
func (s *Store) ScanPoints(runID, param string) (values, results []float64, err error) {
	rows, err := s.Query(
		`SELECT value, metric_value FROM scan_points
		WHERE run_id = ? AND param = ? ORDER BY value`, runID, param)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v, r float64
		if err := rows.Scan(&v, &r); err != nil {
			return nil, nil, err
		}
		values = append(values, v)
		results = append(results, r)
	}
	return values, results, rows.Err()
}

func scanFitRun(scan func(...any) error) (FitRun, error) {
	var (
		r                       FitRun
		converged, flipped      int
		bestFit, createdAtValue string
	)
	if err := scan(&r.RunID, &r.Model, &r.Metric, &r.MetricValue, &converged,
		&flipped, &r.NumEvaluations, &r.DurationMs, &bestFit, &createdAtValue); err != nil {
		return FitRun{}, err
	}
	r.Converged = converged != 0
	r.OctantFlipped = flipped != 0
	if err := json.Unmarshal([]byte(bestFit), &r.BestFit); err != nil {
		return FitRun{}, fmt.Errorf("decode best-fit params for run %s: %w", r.RunID, err)
	}
	ts, err := parseCreatedAt(createdAtValue)
	if err != nil {
		return FitRun{}, fmt.Errorf("run %s: %w", r.RunID, err)
	}
	r.CreatedAt = ts
	return r, nil
}

// parseCreatedAt accepts sqlite's CURRENT_TIMESTAMP layout and RFC3339,
// the two forms the driver hands back for TIMESTAMP columns.
func parseCreatedAt(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("created_at %q matches no known layout", s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Backup snapshots the database into backupPath using VACUUM INTO.
func (s *Store) Backup(backupPath string) error {
	if _, err := s.Exec("VACUUM INTO ?", backupPath); err != nil {
		return fmt.Errorf("backup into %q: %w", backupPath, err)
	}
	return nil
}

// AttachAdminRoutes mounts live SQL debugging and a backup download
// endpoint on the mux.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Fit results DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if err := s.Backup(backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
	return nil
}
