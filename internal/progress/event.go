package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart    Stage = "BATCH_START"
	StageBatchHB       Stage = "BATCH_HEARTBEAT"
	StageBatchDone     Stage = "BATCH_DONE"
	StageBatchError    Stage = "BATCH_ERROR"
	StageBatchCanceled Stage = "BATCH_CANCELED"
	StageArticleStart  Stage = "ARTICLE_START"
	StageArticleDone   Stage = "ARTICLE_DONE"
)

// Outcome is the coarse classification of one finished article.
type Outcome string

// Supported article outcomes tracked for completions.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeReview    Outcome = "review"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
)

// Event captures a single milestone of extraction progress.
type Event struct {
	// BatchID uniquely identifies a batch run using the 16-byte UUID form.
	BatchID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or article milestone occurred.
	Stage Stage
	// Article scopes article events to one article number.
	Article string
	// Outcome classifies a finished article (succeeded, failed, review, ...).
	Outcome Outcome
	// Dur captures execution latency for articles and batch completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == [16]byte{} {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchHB, StageBatchDone, StageBatchError, StageBatchCanceled:
	case StageArticleStart:
		if e.Article == "" {
			return errors.New("article start requires an article number")
		}
	case StageArticleDone:
		if e.Article == "" {
			return errors.New("article done requires an article number")
		}
		if e.Outcome == "" {
			return errors.New("article done requires an outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// BatchUUID converts the binary batch ID to uuid.UUID for repositories.
func (e Event) BatchUUID() uuid.UUID {
	return uuid.UUID(e.BatchID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyOutcome derives the outcome class for a finished article from its
// extraction success and review flags.
func ClassifyOutcome(succeeded, requiresReview bool) Outcome {
	switch {
	case !succeeded:
		return OutcomeFailed
	case requiresReview:
		return OutcomeReview
	default:
		return OutcomeSucceeded
	}
}
