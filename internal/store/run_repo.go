package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus mirrors the batch_runs status column.
type RunStatus string

// Run statuses persisted in batch_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunError    RunStatus = "error"
	RunCanceled RunStatus = "canceled"
)

// Run models the batch_runs table for API responses.
type Run struct {
	// ID is the primary key of batch_runs.
	ID uuid.UUID
	// BatchID is the logical batch identifier shared with the orchestrator.
	BatchID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	// Status is running/success/error/canceled.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// OutcomeStats aggregates article completions per batch and outcome class.
type OutcomeStats struct {
	// BatchID is the owning batch.
	BatchID uuid.UUID
	// Outcome is the article outcome label (succeeded, failed, review, ...).
	Outcome string
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time
	// Articles counts completed articles in this class.
	Articles int64
	// DurationMsTotal accumulates per-article processing time.
	DurationMsTotal int64
}

// RunRepository persists incremental batch progress.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, batchID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, batchID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertOutcomeStats applies article/duration deltas per (batch, outcome).
	UpsertOutcomeStats(
		ctx context.Context,
		batchID uuid.UUID,
		outcome string,
		deltaArticles int64,
		deltaDurationMs int64,
		at time.Time,
	) error

	// GetRun loads a single batch run or returns ErrNotFound.
	GetRun(ctx context.Context, batchID uuid.UUID) (Run, error)
	// ListRuns returns batch runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunOutcomes returns aggregated outcome stats for one batch.
	ListRunOutcomes(ctx context.Context, batchID uuid.UUID, limit, offset int) ([]OutcomeStats, error)
}
