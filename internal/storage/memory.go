package storage

import (
	"context"
	"sort"
	"sync"

	"echoflow/internal/record"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	esns        map[string]record.ESN
	runs        map[string]record.RunSummary
	series      map[string][][]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.esns = make(map[string]record.ESN)
	s.runs = make(map[string]record.RunSummary)
	s.series = make(map[string][][]float64)
	return nil
}

func (s *MemoryStore) SaveESN(_ context.Context, esn record.ESN) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.esns[esn.ID] = esn
	return nil
}

func (s *MemoryStore) GetESN(_ context.Context, id string) (record.ESN, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	esn, ok := s.esns[id]
	return esn, ok, nil
}

func (s *MemoryStore) ListESNs(_ context.Context) ([]record.ESN, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]record.ESN, 0, len(s.esns))
	for _, esn := range s.esns {
		out = append(out, esn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteESN(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.esns, id)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run record.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (record.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, modelID string) ([]record.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]record.RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		if modelID == "" || run.ModelID == modelID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) SaveSeries(_ context.Context, runID string, series [][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([][]float64, len(series))
	for i, step := range series {
		copied[i] = append([]float64(nil), step...)
	}
	s.series[runID] = copied
	return nil
}

func (s *MemoryStore) GetSeries(_ context.Context, runID string) ([][]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([][]float64, len(series))
	for i, step := range series {
		copied[i] = append([]float64(nil), step...)
	}
	return copied, true, nil
}
