package devauth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterStore maintains per-phone-number rate limiters and performs
// periodic cleanup of numbers not seen for a while.
type limiterStore struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	clients         map[string]*limiterEntry
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newLimiterStore creates a store allowing perMinute code requests per
// phone number with the given burst capacity.
func newLimiterStore(perMinute, burst int, cleanupInterval time.Duration) *limiterStore {
	if perMinute <= 0 {
		perMinute = 3
	}
	if burst <= 0 {
		burst = 1
	}
	s := &limiterStore{
		limit:           rate.Every(time.Minute / time.Duration(perMinute)),
		burst:           burst,
		clients:         map[string]*limiterEntry{},
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *limiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			s.mu.Lock()
			for k, v := range s.clients {
				if v.lastSeen.Before(cutoff) {
					delete(s.clients, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// stop stops the cleanup goroutine.
func (s *limiterStore) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// allow checks whether another code may be issued for key.
func (s *limiterStore) allow(key string) bool {
	s.mu.Lock()
	entry, ok := s.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	s.mu.Unlock()
	return entry.limiter.Allow()
}
