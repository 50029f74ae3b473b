package orchestrator

import (
	"sync"
	"time"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/progress"
)

// Stats tracks run counters behind a mutex so articles processed concurrently
// inside a sub-batch can update them safely. One instance lives per run.
type Stats struct {
	mu         sync.Mutex
	counters   extraction.BatchCounters
	startedAt  time.Time
	finishedAt time.Time
}

// NewStats returns an empty counter set.
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot returns a copy of the counters for reporting.
func (s *Stats) Snapshot() extraction.BatchCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// StartedAt reports when the run began, zero until markStarted.
func (s *Stats) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// FinishedAt reports when the run ended, zero while still running.
func (s *Stats) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

func (s *Stats) markStarted(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = at
}

func (s *Stats) markFinished(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedAt = at
}

// recordOutcome bumps the counter matching one article outcome. Processed
// counts only articles that actually ran the pipeline; duplicates and
// skipped articles are tracked separately.
func (s *Stats) recordOutcome(class progress.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch class {
	case progress.OutcomeSucceeded:
		s.counters.Processed++
		s.counters.Successful++
	case progress.OutcomeReview:
		s.counters.Processed++
		s.counters.ReviewNeeded++
	case progress.OutcomeFailed:
		s.counters.Processed++
		s.counters.Failed++
	case progress.OutcomeSkipped:
		s.counters.Skipped++
	case progress.OutcomeDuplicate:
		s.counters.Duplicates++
	}
}
