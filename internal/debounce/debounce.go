// Package debounce provides a single-pending-flush scheduler: bursts of
// triggers within the quiet window coalesce into one write.
package debounce

import (
	"sync"
	"time"
)

// Scheduler delays a flush until a quiet period elapses since the last
// trigger. At most one flush is pending at a time; a new trigger cancels
// and reschedules rather than queuing another write.
type Scheduler struct {
	delay time.Duration
	flush func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func NewScheduler(delay time.Duration, flush func()) *Scheduler {
	return &Scheduler{delay: delay, flush: flush}
}

// Trigger schedules a flush after the quiet window, replacing any flush
// already pending.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.run)
}

// Flush cancels any pending timer and runs the flush synchronously.
// Intended for shutdown.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.flush()
}

// Stop cancels any pending flush without running it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) run() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()
	s.flush()
}
