// Package schedule implements the engine's single deferred-callback timer:
// at most one pending callback at any instant, cancellable and idempotent,
// holding no resource that would block process shutdown.
package schedule

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler owns at most one pending timer. It is safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	timer  *time.Timer
	logger *slog.Logger
}

// New creates an empty Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Schedule cancels any existing timer and arms a new one that calls cb
// after delay. It returns the wall-clock time the callback is scheduled
// to fire at.
func (s *Scheduler) Schedule(delay time.Duration, cb func()) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	fireAt := time.Now().Add(delay)
	var armed *time.Timer
	armed = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timer == armed {
			s.timer = nil
		}
		s.mu.Unlock()
		s.logger.Debug("scheduled callback firing", "delay", delay)
		cb()
	})
	s.timer = armed
	return fireAt
}

// Cancel clears any pending timer. Safe to call with nothing scheduled.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether a timer is currently armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
