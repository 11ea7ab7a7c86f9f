package genstore

import (
	"context"
	"sync"
	"time"
)

type localGenEntry struct {
	gen       uint64
	updatedAt time.Time
}

// LocalGenStore keeps generations in-process. With a cleanup interval and a
// retention it prunes keys that have not been bumped for longer than retention;
// a pruned key reads as generation 0 again, which invalidates entries stamped
// with a higher generation (they self-heal on the next read).
type LocalGenStore struct {
	mu   sync.RWMutex
	gens map[string]localGenEntry

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{gens: make(map[string]localGenEntry)}
	if cleanupInterval > 0 && retention > 0 {
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.cleanupLoop(cleanupInterval, retention)
	}
	return s
}

func (s *LocalGenStore) cleanupLoop(every, retention time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Cleanup(retention)
		case <-s.stopCh:
			return
		}
	}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e := s.gens[k]
	s.mu.RUnlock()
	return e.gen, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.gens[k]
	e.gen++
	e.updatedAt = now
	s.gens[k] = e
	s.mu.Unlock()
	return e.gen, nil
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	for k, e := range s.gens {
		if e.updatedAt.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

func (s *LocalGenStore) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
