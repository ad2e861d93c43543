package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chainsight/responder/pkg/schema"
)

// MemoryStore is an in-memory Store used in tests and ephemeral runs.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	events map[string][]*Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]*Run),
		events: make(map[string][]*Event),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

func (s *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run already exists: %s", run.ID)
	}
	if run.Version == 0 {
		run.Version = 1
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.UpdatedAt = run.CreatedAt
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", id)
	}
	return copyRun(run), nil
}

func (s *MemoryStore) Checkpoint(ctx context.Context, run *Run, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok {
		return 0, schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", run.ID)
	}
	if stored.Version != expectedVersion {
		return 0, schema.NewErrorf(schema.ErrCodeConflict,
			"checkpoint version conflict for run %s (expected %d, have %d)",
			run.ID, expectedVersion, stored.Version)
	}
	run.Version = expectedVersion + 1
	run.UpdatedAt = time.Now().UTC()
	run.CreatedAt = stored.CreatedAt
	s.runs[run.ID] = copyRun(run)
	return run.Version, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var runs []*Run
	for _, run := range s.runs {
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && run.CreatedAt.Before(*filter.Since) {
			continue
		}
		runs = append(runs, copyRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := *event
	e.ID = s.nextID
	e.Sequence = int64(len(s.events[event.RunID])) + 1
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.events[event.RunID] = append(s.events[event.RunID], &e)
	event.ID = e.ID
	event.Sequence = e.Sequence
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []*Event
	for _, e := range s.events[runID] {
		if e.Sequence > since {
			copied := *e
			events = append(events, &copied)
		}
	}
	return events, nil
}

func copyRun(run *Run) *Run {
	c := *run
	if run.State != nil {
		c.State = run.State.Clone()
	}
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
