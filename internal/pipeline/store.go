package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("pipeline: run not found")

// Store persists pipeline runs. Runs are immutable once written; a post is
// reprocessed by creating a new run.
type Store interface {
	SaveRun(ctx context.Context, run *models.PipelineRun) error
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRunsForPost(ctx context.Context, postID int64, limit int) ([]models.PipelineRun, error)
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) SaveRun(ctx context.Context, run *models.PipelineRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_runs (
			id, post_id, success, suitable, error, output,
			total_tokens, total_cost, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.ID, run.PostID, run.Success, run.Suitable, nullString(run.Error),
		nullRaw(run.Output), run.TotalTokens, run.TotalCost, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, sr := range run.Stages {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pipeline_stage_results (
				run_id, position, stage, status, payload, error,
				model, tokens_used, cost, duration_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, run.ID, i, sr.Stage, sr.Status, nullRaw(sr.Payload), nullString(sr.Error),
			nullString(sr.Model), sr.TokensUsed, sr.Cost, sr.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert stage result %s: %w", sr.Stage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	run, err := s.scanRun(s.db.QueryRowContext(ctx, `
		SELECT id, post_id, success, suitable, error, output,
			total_tokens, total_cost, started_at, finished_at
		FROM pipeline_runs
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadStages(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLStore) ListRunsForPost(ctx context.Context, postID int64, limit int) ([]models.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, success, suitable, error, output,
			total_tokens, total_cost, started_at, finished_at
		FROM pipeline_runs
		WHERE post_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, postID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.PipelineRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	for i := range runs {
		if err := s.loadStages(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanRun(r rowScanner) (*models.PipelineRun, error) {
	var run models.PipelineRun
	var runErr, output sql.NullString
	err := r.Scan(&run.ID, &run.PostID, &run.Success, &run.Suitable, &runErr, &output,
		&run.TotalTokens, &run.TotalCost, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Error = runErr.String
	if output.Valid {
		run.Output = []byte(output.String)
	}
	return &run, nil
}

func (s *SQLStore) loadStages(ctx context.Context, run *models.PipelineRun) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, status, payload, error, model, tokens_used, cost, duration_ms
		FROM pipeline_stage_results
		WHERE run_id = $1
		ORDER BY position ASC
	`, run.ID)
	if err != nil {
		return fmt.Errorf("load stage results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sr models.StageResult
		var payload, srErr, model sql.NullString
		var durationMS int64
		if err := rows.Scan(&sr.Stage, &sr.Status, &payload, &srErr, &model,
			&sr.TokensUsed, &sr.Cost, &durationMS); err != nil {
			return fmt.Errorf("scan stage result: %w", err)
		}
		if payload.Valid {
			sr.Payload = []byte(payload.String)
		}
		sr.Error = srErr.String
		sr.Model = model.String
		sr.Duration = time.Duration(durationMS) * time.Millisecond
		run.Stages = append(run.Stages, sr)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate stage results: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
