package storage

import (
	"context"
	"sort"
	"sync"
)

// memoryStore keeps records for the lifetime of the process.
// Records are copied on the way in and on the way out.
type memoryStore struct {
	mu     sync.RWMutex
	recs   map[int64]Record
	closed bool
}

func NewMemory() Store {
	return &memoryStore{recs: map[int64]Record{}}
}

func (s *memoryStore) Get(_ context.Context, userID int64) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, false, ErrClosed
	}
	r, ok := s.recs[userID]
	if !ok {
		return Record{}, false, nil
	}
	return r.Clone(), true, nil
}

func (s *memoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.recs[rec.UserID] = rec.Clone()
	return nil
}

func (s *memoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Record, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
