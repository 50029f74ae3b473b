package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/artikelwerk/hybrid-extractor/internal/store"
)

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	pool pgxPool
}

// NewRunStore constructs a RunStore over an existing pool.
func NewRunStore(pool pgxPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// UpsertRunStart inserts the run row or refreshes its status back to running.
func (s *RunStore) UpsertRunStart(ctx context.Context, batchID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO batch_runs (id, batch_id, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, started_at = EXCLUDED.started_at
		WHERE batch_runs.status <> EXCLUDED.status;
	`
	_, err := s.pool.Exec(ctx, query, batchID, batchID, startedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with a terminal status and optional
// error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	batchID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE batch_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	_, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, batchID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// UpsertOutcomeStats applies article and duration deltas for one
// (batch, outcome) pair in a single atomic statement.
func (s *RunStore) UpsertOutcomeStats(
	ctx context.Context,
	batchID uuid.UUID,
	outcome string,
	deltaArticles int64,
	deltaDurationMs int64,
	at time.Time,
) error {
	query := `
		INSERT INTO run_article_stats (batch_id, outcome, last_update, articles, duration_ms_total)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (batch_id, outcome) DO UPDATE SET
			articles = run_article_stats.articles + EXCLUDED.articles,
			duration_ms_total = run_article_stats.duration_ms_total + EXCLUDED.duration_ms_total,
			last_update = GREATEST(run_article_stats.last_update, EXCLUDED.last_update);
	`
	_, err := s.pool.Exec(ctx, query, batchID, outcome, at, deltaArticles, deltaDurationMs)
	if err != nil {
		return fmt.Errorf("upsert outcome stats: %w", err)
	}
	return nil
}

// GetRun retrieves a single batch run by its ID.
func (s *RunStore) GetRun(ctx context.Context, batchID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, batch_id, started_at, finished_at, status, error_message
		FROM batch_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, batchID).Scan(
		&run.ID,
		&run.BatchID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves batch runs, newest first, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.Run, error) {
	query := `
		SELECT id, batch_id, started_at, finished_at, status, error_message
		FROM batch_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		err := rows.Scan(
			&run.ID,
			&run.BatchID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunOutcomes retrieves aggregated per-outcome stats for one batch.
func (s *RunStore) ListRunOutcomes(
	ctx context.Context,
	batchID uuid.UUID,
	limit,
	offset int,
) ([]store.OutcomeStats, error) {
	query := `
		SELECT batch_id, outcome, last_update, articles, duration_ms_total
		FROM run_article_stats
		WHERE batch_id = $1
		ORDER BY outcome
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, batchID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run outcomes: %w", err)
	}
	defer rows.Close()

	var stats []store.OutcomeStats
	for rows.Next() {
		var stat store.OutcomeStats
		err := rows.Scan(
			&stat.BatchID,
			&stat.Outcome,
			&stat.LastUpdate,
			&stat.Articles,
			&stat.DurationMsTotal,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outcome stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run outcomes: %w", err)
	}
	return stats, nil
}
