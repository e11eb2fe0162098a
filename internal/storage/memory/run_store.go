package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
)

// RunStore keeps the run ledger in memory, keyed by run id.
type RunStore struct {
	mu    sync.RWMutex
	order []string
	runs  map[string]harvest.RunRecord
}

// NewRunStore returns an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]harvest.RunRecord)}
}

// RecordRun inserts or replaces the run.
func (s *RunStore) RecordRun(_ context.Context, run harvest.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// Runs returns recorded runs in first-recorded order.
func (s *RunStore) Runs() []harvest.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]harvest.RunRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id])
	}
	return out
}
