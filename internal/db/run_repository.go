package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cephdash/cephfetch/internal/models"
)

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = errors.New("run not found")

// RunRepository persists runs and their per-target outcomes.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a running run record.
func (r *RunRepository) Create(ctx context.Context, run *models.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, succeeded, failed)
		VALUES (?, ?, ?, 0, 0)
	`, run.ID, formatTime(run.StartedAt), string(run.Status))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Finish records the final status and summary of a run.
func (r *RunRepository) Finish(ctx context.Context, id string, status models.RunStatus, summary models.RunSummary, runErr string) error {
	return r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE runs
			SET finished_at = ?, status = ?, succeeded = ?, failed = ?, error = ?
			WHERE id = ?
		`, formatTime(time.Now()), string(status), summary.Succeeded, summary.Failed, nullString(runErr), id)
		if err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// RecordTarget upserts the outcome of one target.
func (r *RunRepository) RecordTarget(ctx context.Context, record models.TargetRecord) error {
	if record.RunID == "" || record.Target == "" {
		return fmt.Errorf("run id and target are required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO run_targets (run_id, target, address, state, remote_path, local_path, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, target) DO UPDATE SET
			address = excluded.address,
			state = excluded.state,
			remote_path = excluded.remote_path,
			local_path = excluded.local_path,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`,
		record.RunID,
		record.Target,
		record.Address,
		string(record.State),
		nullString(record.RemotePath),
		nullString(record.LocalPath),
		nullString(record.Error),
		formatTime(record.StartedAt),
		formatTime(record.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record target %s: %w", record.Target, err)
	}
	return nil
}

// Get loads one run.
func (r *RunRepository) Get(ctx context.Context, id string) (*models.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, succeeded, failed, error
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// List returns the most recent runs first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, succeeded, failed, error
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Targets returns the recorded targets of a run in name order.
func (r *RunRepository) Targets(ctx context.Context, runID string) ([]*models.TargetRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, target, address, state, remote_path, local_path, error, started_at, finished_at
		FROM run_targets
		WHERE run_id = ?
		ORDER BY target
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	var records []*models.TargetRecord
	for rows.Next() {
		var rec models.TargetRecord
		var state, startedAt, finishedAt string
		var remote, local, errMsg sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.Target, &rec.Address, &state, &remote, &local, &errMsg, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		rec.State = models.OutcomeState(state)
		rec.RemotePath = remote.String
		rec.LocalPath = local.String
		rec.Error = errMsg.String
		rec.StartedAt = parseTime(startedAt)
		rec.FinishedAt = parseTime(finishedAt)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating targets: %w", err)
	}
	return records, nil
}

func scanRun(row scanner) (*models.RunRecord, error) {
	var run models.RunRecord
	var startedAt, status string
	var finishedAt, runErr sql.NullString

	if err := row.Scan(&run.ID, &startedAt, &finishedAt, &status, &run.Summary.Succeeded, &run.Summary.Failed, &runErr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.StartedAt = parseTime(startedAt)
	run.Status = models.RunStatus(status)
	run.Error = runErr.String
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
