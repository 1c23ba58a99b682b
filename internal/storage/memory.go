package storage

import (
	"context"
	"sort"
	"sync"

	"glmprep/internal/model"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.SessionRecord
	runs     map[string]model.RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.SessionRecord),
		runs:     make(map[string]model.RunRecord),
	}
}

func (s *MemoryStore) Init(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, record model.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[record.SessionID] = cloneRecord(record)
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (model.SessionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.sessions[sessionID]
	if !ok {
		return model.SessionRecord{}, false, nil
	}
	return cloneRecord(record), true, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, filter Filter) ([]model.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SessionRecord, 0, len(s.sessions))
	for _, record := range s.sessions {
		if filter.Matches(record) {
			out = append(out, cloneRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (s *MemoryStore) SaveRun(ctx context.Context, record model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.runs[runID]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return record, true, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, record := range s.runs {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtUTC > out[j].CreatedAtUTC })
	return out, nil
}

func cloneRecord(record model.SessionRecord) model.SessionRecord {
	out := record
	out.Issues = append([]string(nil), record.Issues...)
	return out
}
