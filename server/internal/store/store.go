// Package store is the in-memory, thread-safe registry of jobs. It
// preserves submission order for listing and scheduling.
package store

import (
	"errors"
	"sync"

	"github.com/queued-dl/queued/server/internal"
)

var ErrNotFound = errors.New("no job found for the given id")

type Store struct {
	mu    sync.RWMutex
	table map[string]*internal.Job
	order []string
}

func New() *Store {
	return &Store{
		table: make(map[string]*internal.Job),
	}
}

// Get returns the job with the given id.
func (s *Store) Get(id string) (*internal.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.table[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

// Set stores the job and returns its id. Submission order is kept.
func (s *Store) Set(job *internal.Job) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.table[job.ID]; !ok {
		s.order = append(s.order, job.ID)
	}
	s.table[job.ID] = job

	return job.ID
}

// Delete removes the job with the given id.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.table[id]; !ok {
		return
	}
	delete(s.table, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Keys returns all job ids in submission order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys
}

// All returns read-only snapshots of every job in submission order.
func (s *Store) All() []internal.JobSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := make([]internal.JobSnapshot, 0, len(s.order))
	for _, id := range s.order {
		snapshots = append(snapshots, s.table[id].Snapshot())
	}
	return snapshots
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
