// Package link owns the serial connection to the control surface and the
// timer-driven reconnect policy shared with the mixing engine client.
package link

import (
	"sync"
	"time"

	"gata-mixer/src/server/metrics"
)

const (
	// FaultRetryDelay is how long after an I/O fault a reconnect is attempted.
	FaultRetryDelay = 10 * time.Second
	// LivenessTimeout triggers a reconnect when an open device goes silent.
	LivenessTimeout = 5 * time.Second
	// OpenWatchdog bounds how long a connect request may sit in Opening.
	OpenWatchdog = 10 * time.Second
)

// Timer is the subset of *time.Timer the supervisor uses.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is backed by time.AfterFunc.
var RealClock Clock = realClock{}

// Supervisor holds at most one pending reconnect. Scheduling replaces the
// pending one, so a link never has two reconnect cycles queued.
type Supervisor struct {
	name  string
	clock Clock
	retry func(reason string)

	mu     sync.Mutex
	timer  Timer
	reason string
	gen    uint64
}

func NewSupervisor(name string, clock Clock, retry func(reason string)) *Supervisor {
	if clock == nil {
		clock = RealClock
	}
	return &Supervisor{name: name, clock: clock, retry: retry}
}

// Schedule arms the reconnect timer, replacing any pending one.
func (s *Supervisor) Schedule(reason string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.reason = reason
	s.timer = s.clock.AfterFunc(d, func() { s.fire(gen) })
	metrics.ReconnectsScheduled.WithLabelValues(s.name, reason).Inc()
}

// Cancel drops the pending reconnect, if any.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.reason = ""
	s.gen++
}

// Pending returns the reason of the armed reconnect, or "" when none is armed.
func (s *Supervisor) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Supervisor) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		// stopped or replaced after the timer already fired
		s.mu.Unlock()
		return
	}
	reason := s.reason
	s.timer = nil
	s.reason = ""
	s.mu.Unlock()

	s.retry(reason)
}
