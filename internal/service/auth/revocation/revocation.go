// Package revocation keeps refresh token ids that must never be accepted again
package revocation

import (
	"context"
	"sync"
	"time"
)

// Set of revoked jti values
// Every entry carries eviction horizon: the moment token would be rejected anyway
// (its absolute max lifetime), so pruning never makes revoked token valid again
type Set struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func New() *Set {
	return &Set{revoked: make(map[string]time.Time)}
}

// Add jti to the set
// Returns true only for the caller that inserted it, so Add may be used as atomic claim
func (s *Set) Add(jti string, until time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.revoked[jti]; ok {
		return false
	}
	s.revoked[jti] = until
	return true
}

func (s *Set) Contains(jti string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.revoked[jti]
	return ok
}

// Drop entries whose horizon passed, returns number of dropped entries
func (s *Set) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for jti, until := range s.revoked {
		if now.After(until) {
			delete(s.revoked, jti)
			pruned++
		}
	}
	return pruned
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.revoked)
}

// Prune set every interval until ctx done
// Returned channel closed when pruning loop exits
func (s *Set) Run(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Prune(now)
			}
		}
	}()

	return done
}
