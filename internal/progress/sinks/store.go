package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/progress"
	"github.com/artikelwerk/hybrid-extractor/internal/store"
)

// StoreSink persists progress deltas via a store.RunRepository. It collapses
// article completions into per-outcome counters to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses outcome deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, events []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range events {
		batchID := evt.BatchUUID()
		switch evt.Stage {
		case progress.StageBatchStart, progress.StageBatchDone, progress.StageBatchError, progress.StageBatchCanceled:
			if err := s.handleBatchEvent(ctx, batchID, evt); err != nil {
				return err
			}
		case progress.StageArticleDone:
			s.recordOutcome(stats, batchID, evt)
		}
	}

	for key, delta := range stats {
		if delta.articles == 0 && delta.durationMs == 0 {
			continue
		}
		if err := s.repo.UpsertOutcomeStats(
			ctx,
			key.batchID,
			key.outcome,
			delta.articles,
			delta.durationMs,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert outcome stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleBatchEvent(ctx context.Context, batchID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageBatchStart:
		if err := s.repo.UpsertRunStart(ctx, batchID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageBatchDone:
		if err := s.repo.CompleteRun(ctx, batchID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageBatchError:
		if err := s.repo.CompleteRun(ctx, batchID, evt.TS, store.RunError, noteOrNil(evt)); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageBatchCanceled:
		if err := s.repo.CompleteRun(ctx, batchID, evt.TS, store.RunCanceled, noteOrNil(evt)); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) recordOutcome(stats map[statsKey]*statsDelta, batchID uuid.UUID, evt progress.Event) {
	if evt.Outcome == "" {
		return
	}
	key := statsKey{
		batchID: batchID,
		outcome: string(evt.Outcome),
	}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	stat.articles++
	stat.durationMs += evt.Dur.Milliseconds()
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

func noteOrNil(evt progress.Event) *string {
	if evt.Note == "" {
		return nil
	}
	return &evt.Note
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	batchID uuid.UUID
	outcome string
}

type statsDelta struct {
	articles   int64
	durationMs int64
	at         time.Time
}
