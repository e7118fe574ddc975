package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// ErrOutcomeNotFound is returned by Get for unknown run IDs.
var ErrOutcomeNotFound = fmt.Errorf("outcome %w", clipper.ErrNotFound)

// OutcomeStore keeps outcome records in insertion order.
type OutcomeStore struct {
	mu      sync.RWMutex
	records []clipper.OutcomeRecord
	byID    map[string]int
}

// NewOutcomeStore constructs an empty OutcomeStore.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{byID: make(map[string]int)}
}

// RecordOutcome implements clipper.OutcomeRecorder.
func (s *OutcomeStore) RecordOutcome(_ context.Context, record clipper.OutcomeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.byID[record.ID]; ok {
		s.records[i] = record
		return nil
	}
	s.byID[record.ID] = len(s.records)
	s.records = append(s.records, record)
	return nil
}

// Get returns the record with the given run ID.
func (s *OutcomeStore) Get(_ context.Context, id string) (clipper.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return clipper.OutcomeRecord{}, ErrOutcomeNotFound
	}
	return s.records[i], nil
}

// List returns a copy of all records, oldest first.
func (s *OutcomeStore) List(_ context.Context) ([]clipper.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]clipper.OutcomeRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}
