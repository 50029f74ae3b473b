package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/artikelwerk/hybrid-extractor/internal/store"
)

func TestUpsertRunStartInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStore(mock)
	require.NoError(t, err)

	batchID := uuid.New()
	startedAt := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO batch_runs").
		WithArgs(batchID, batchID, startedAt, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, runStore.UpsertRunStart(context.Background(), batchID, startedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunUpdatesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStore(mock)
	require.NoError(t, err)

	batchID := uuid.New()
	finishedAt := time.Unix(1700003600, 0).UTC()
	errMsg := "no articles were successfully extracted"

	mock.ExpectExec("UPDATE batch_runs").
		WithArgs(finishedAt, store.RunError, &errMsg, batchID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = runStore.CompleteRun(context.Background(), batchID, finishedAt, store.RunError, &errMsg)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOutcomeStatsAppliesDeltas(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStore(mock)
	require.NoError(t, err)

	batchID := uuid.New()
	at := time.Unix(1700000500, 0).UTC()

	mock.ExpectExec("INSERT INTO run_article_stats").
		WithArgs(batchID, "succeeded", at, int64(3), int64(4200)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = runStore.UpsertOutcomeStats(context.Background(), batchID, "succeeded", 3, 4200, at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStore(mock)
	require.NoError(t, err)

	batchID := uuid.New()
	mock.ExpectQuery("FROM batch_runs").
		WithArgs(batchID).
		WillReturnError(pgx.ErrNoRows)

	_, err = runStore.GetRun(context.Background(), batchID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStore(mock)
	require.NoError(t, err)

	batchID := uuid.New()
	startedAt := time.Unix(1700000000, 0).UTC()
	finishedAt := startedAt.Add(42 * time.Second)
	status := store.RunSuccess

	mock.ExpectQuery("FROM batch_runs").
		WithArgs(&status, 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "batch_id", "started_at", "finished_at", "status", "error_message",
		}).AddRow(
			batchID, batchID, startedAt, &finishedAt, store.RunSuccess, (*string)(nil),
		))

	runs, err := runStore.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, batchID, runs[0].BatchID)
	require.Equal(t, store.RunSuccess, runs[0].Status)
	require.NotNil(t, runs[0].FinishedAt)
	require.Nil(t, runs[0].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunOutcomesScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStore(mock)
	require.NoError(t, err)

	batchID := uuid.New()
	at := time.Unix(1700000500, 0).UTC()

	mock.ExpectQuery("FROM run_article_stats").
		WithArgs(batchID, 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"batch_id", "outcome", "last_update", "articles", "duration_ms_total",
		}).
			AddRow(batchID, "review", at, int64(1), int64(500)).
			AddRow(batchID, "succeeded", at, int64(2), int64(2000)))

	stats, err := runStore.ListRunOutcomes(context.Background(), batchID, 20, 0)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, "review", stats[0].Outcome)
	require.EqualValues(t, 1, stats[0].Articles)
	require.Equal(t, "succeeded", stats[1].Outcome)
	require.EqualValues(t, 2000, stats[1].DurationMsTotal)
	require.NoError(t, mock.ExpectationsWereMet())
}
