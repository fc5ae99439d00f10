package memory

import (
	"context"
	"sync"

	"github.com/meikuraledutech/workflow"
)

// IdempotencyStore keeps (orgID, key) -> run id claims in a map.
type IdempotencyStore struct {
	mu      sync.RWMutex
	records map[string]string
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[string]string)}
}

var _ workflow.IdempotencyStore = (*IdempotencyStore)(nil)

func (s *IdempotencyStore) Lookup(_ context.Context, orgID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runID, ok := s.records[orgID+"::"+key]
	return runID, ok, nil
}

func (s *IdempotencyStore) Claim(_ context.Context, orgID, key, runID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := orgID + "::" + key
	if winner, ok := s.records[k]; ok {
		return winner, false, nil
	}
	s.records[k] = runID
	return runID, true, nil
}

func (s *IdempotencyStore) Release(_ context.Context, orgID, key, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := orgID + "::" + key
	if s.records[k] == runID {
		delete(s.records, k)
	}
	return nil
}
