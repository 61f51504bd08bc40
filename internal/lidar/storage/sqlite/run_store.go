package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one mapper session.
type Run struct {
	RunID         string          `json:"run_id"`
	MapFrame      string          `json:"map_frame"`
	ConfigJSON    json.RawMessage `json:"config_json,omitempty"`
	StartedAt     int64           `json:"started_at"`
	EndedAt       int64           `json:"ended_at,omitempty"`
	FrameCount    int             `json:"frame_count"`
	FinalFrontier int             `json:"final_frontier"`
}

// FrameRow is a persisted FrameReport.
type FrameRow struct {
	RunID string `json:"run_id"`
	pipeline.FrameReport
	TotalMs float64 `json:"total_ms"`
}

// RunStore provides persistence for runs, frame reports and frontier
// snapshots.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// StartRun inserts a new run. If RunID is empty, a UUID is generated.
func (s *RunStore) StartRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}
	var cfg interface{}
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO frontier_runs (run_id, map_frame, config_json, started_at)
			VALUES (?, ?, ?, ?)`,
			run.RunID, run.MapFrame, cfg, run.StartedAt,
		)
		return err
	})
}

// FinishRun stamps the end time and final frontier size of a run.
func (s *RunStore) FinishRun(runID string, finalFrontier int) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE frontier_runs SET ended_at = ?, final_frontier = ?
			WHERE run_id = ?`,
			time.Now().UnixNano(), finalFrontier, runID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

// GetRun returns a run by id.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, map_frame, config_json, started_at, ended_at, frame_count, final_frontier
		FROM frontier_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id, map_frame, config_json, started_at, ended_at, frame_count, final_frontier
		FROM frontier_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var cfg sql.NullString
	var ended sql.NullInt64
	if err := row.Scan(&run.RunID, &run.MapFrame, &cfg, &run.StartedAt, &ended, &run.FrameCount, &run.FinalFrontier); err != nil {
		return nil, err
	}
	if cfg.Valid {
		run.ConfigJSON = json.RawMessage(cfg.String)
	}
	if ended.Valid {
		run.EndedAt = ended.Int64
	}
	return &run, nil
}

// InsertFrame records one frame report and bumps the run's frame count.
func (s *RunStore) InsertFrame(runID string, r *pipeline.FrameReport) error {
	timings, err := json.Marshal(r.Timings)
	if err != nil {
		return err
	}
	var errText interface{}
	if r.Error != "" {
		errText = r.Error
	}
	totalMs := float64(r.Timings.Total().Microseconds()) / 1000

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.Exec(`UPDATE frontier_runs SET frame_count = frame_count + 1 WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		_, err = tx.Exec(`
			INSERT INTO frontier_frames (
				run_id, seq, frame_id, stamp, status, error,
				valid_points, occupied, free, model, clip, write_failures,
				changed, candidates, outside_roi, missing,
				removed, added, stale, frontier_size, map_voxels,
				total_ms, timings_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Seq, r.FrameID, r.Stamp.UnixNano(), string(r.Status), errText,
			r.ValidPoints, r.Occupied, r.Free, r.Model, r.Clip, r.WriteFailures,
			r.Changed, r.Candidates, r.OutsideROI, r.Missing, r.Removed, r.Added, r.Stale, r.FrontierSize, r.MapVoxels,
			totalMs, string(timings),
		)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ListFrames returns a run's frames in sequence order.
func (s *RunStore) ListFrames(runID string) ([]*FrameRow, error) {
	rows, err := s.db.Query(`
		SELECT seq, frame_id, stamp, status, error,
			valid_points, occupied, free, model, clip, write_failures,
			changed, candidates, outside_roi, missing,
			removed, added, stale, frontier_size, map_voxels,
			total_ms, timings_json
		FROM frontier_frames WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FrameRow
	for rows.Next() {
		f := &FrameRow{RunID: runID}
		var stamp int64
		var status string
		var errText, timings sql.NullString
		if err := rows.Scan(&f.Seq, &f.FrameID, &stamp, &status, &errText,
			&f.ValidPoints, &f.Occupied, &f.Free, &f.Model, &f.Clip, &f.WriteFailures,
			&f.Changed, &f.Candidates, &f.OutsideROI, &f.Missing, &f.Removed, &f.Added, &f.Stale, &f.FrontierSize, &f.MapVoxels,
			&f.TotalMs, &timings); err != nil {
			return nil, err
		}
		f.Stamp = time.Unix(0, stamp)
		f.Status = pipeline.FrameStatus(status)
		f.Error = errText.String
		if timings.Valid {
			if err := json.Unmarshal([]byte(timings.String), &f.Timings); err != nil {
				return nil, fmt.Errorf("frame %d timings: %w", f.Seq, err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// StatusCounts returns the number of frames per status for a run.
func (s *RunStore) StatusCounts(runID string) (map[pipeline.FrameStatus]int, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM frontier_frames WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[pipeline.FrameStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[pipeline.FrameStatus(status)] = n
	}
	return out, rows.Err()
}

// DeleteRun removes a run with its frames and snapshots.
func (s *RunStore) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM frontier_runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}
