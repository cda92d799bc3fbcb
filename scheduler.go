package sessionx

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler arms a single one-shot timer that fires skew before the access
// token expires. Arming replaces any timer armed earlier.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	skew   time.Duration
	onFire func()
	log    *slog.Logger
	timer  Timer
	gen    uint64
	fireAt time.Time
}

// NewScheduler returns a Scheduler calling onFire when an armed timer expires.
func NewScheduler(clock Clock, skew time.Duration, onFire func(), log *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{clock: clock, skew: skew, onFire: onFire, log: log}
}

// Arm schedules a refresh for accessToken. It reports false, leaving nothing
// armed, when the token has no expiry or the refresh point is already past;
// the caller must refresh right away in that case.
func (s *Scheduler) Arm(accessToken string) bool {
	exp, ok := ExpiresAt(accessToken)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	if !ok {
		return false
	}

	fireAt := exp.Add(-s.skew)
	delay := fireAt.Sub(s.clock.Now())
	if delay <= 0 {
		return false
	}

	s.gen++
	gen := s.gen
	s.fireAt = fireAt
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen) })
	s.log.Debug("refresh armed", slog.Time("fire_at", fireAt))
	return true
}

// Cancel disarms the pending timer, if any. Safe to call repeatedly.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Armed reports whether a timer is pending and when it fires.
func (s *Scheduler) Armed() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return time.Time{}, false
	}
	return s.fireAt, true
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.fireAt = time.Time{}
	// a timer already past Stop still runs its func; the bump makes it a no-op
	s.gen++
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.fireAt = time.Time{}
	s.mu.Unlock()

	if s.onFire != nil {
		s.onFire()
	}
}
