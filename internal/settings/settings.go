// Package settings holds the mutable scheduling configuration behind a
// single writer of record. Readers take immutable snapshots or subscribe
// for change notifications; nothing reads ambient shared globals.
package settings

import (
	"errors"
	"sync"
)

// Snapshot is one immutable view of the scheduling settings.
type Snapshot struct {
	// DefaultGranularityMinutes is the candidate-grid step used when a
	// caller does not ask for one explicitly.
	DefaultGranularityMinutes int

	// MaxAdvanceDays bounds how far ahead of today a reservation may be.
	MaxAdvanceDays int
}

func (s Snapshot) validate() error {
	if s.DefaultGranularityMinutes <= 0 {
		return errors.New("default granularity must be positive")
	}
	if s.MaxAdvanceDays <= 0 {
		return errors.New("max advance days must be positive")
	}
	return nil
}

type Service struct {
	mu   sync.RWMutex
	cur  Snapshot
	subs map[int]chan Snapshot
	next int
}

func New(initial Snapshot) (*Service, error) {
	if err := initial.validate(); err != nil {
		return nil, err
	}
	return &Service{
		cur:  initial,
		subs: make(map[int]chan Snapshot),
	}, nil
}

// Current returns the latest snapshot.
func (s *Service) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update applies fn to the current snapshot under the writer lock and
// publishes the result to all subscribers. The update is rejected whole if
// the resulting snapshot is invalid.
func (s *Service) Update(fn func(Snapshot) Snapshot) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := fn(s.cur)
	if err := updated.validate(); err != nil {
		return s.cur, err
	}
	s.cur = updated

	for _, ch := range s.subs {
		// Each subscriber keeps at most the latest snapshot; a slow reader
		// drops intermediate ones instead of blocking the writer.
		select {
		case <-ch:
		default:
		}
		ch <- updated
	}
	return updated, nil
}

// Subscribe registers for change notifications. The returned cancel
// function unsubscribes and closes the channel.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan Snapshot, 1)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
