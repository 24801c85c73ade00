package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
)

// RunStore provides an in-memory run history.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]ingest.Run
	order []string
	now   func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]ingest.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run ingest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return nil
}

// UpdateRunStatus updates the status and counters for a run.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status ingest.RunStatus,
	errText string,
	counters ingest.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ingest.ErrRunNotFound, runID)
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := s.now()
	if status == ingest.RunStatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if status.Terminal() {
		if run.Started == nil {
			run.Started = pointerTime(now)
		}
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (ingest.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return ingest.Run{}, fmt.Errorf("%w: %s", ingest.ErrRunNotFound, runID)
	}
	return run, nil
}

// ListRuns returns all runs, newest first.
func (s *RunStore) ListRuns(_ context.Context) ([]ingest.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Run, 0, len(s.order))
	for _, id := range slices.Backward(s.order) {
		out = append(out, s.runs[id])
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
