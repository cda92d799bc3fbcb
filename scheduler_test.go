package sessionx

import (
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(clock *fakeClock, fired *atomic.Int32) *Scheduler {
	return NewScheduler(clock, DefaultSkew, func() { fired.Add(1) }, discardLogger())
}

func TestSchedulerFiresSkewBeforeExpiry(t *testing.T) {
	clock := newFakeClock()
	var fired atomic.Int32
	s := newTestScheduler(clock, &fired)

	exp := clock.Now().Add(time.Hour)
	if !s.Arm(mustMint(t, nil, exp)) {
		t.Fatal("expected token valid for an hour to arm")
	}
	fireAt, ok := s.Armed()
	if !ok || !fireAt.Equal(exp.Add(-DefaultSkew)) {
		t.Fatalf("expected fire at %v, got %v (armed=%v)", exp.Add(-DefaultSkew), fireAt, ok)
	}

	clock.Advance(54 * time.Minute)
	if fired.Load() != 0 {
		t.Fatal("fired before the refresh point")
	}
	clock.Advance(time.Minute)
	if fired.Load() != 1 {
		t.Fatalf("expected one fire, got %d", fired.Load())
	}
	if _, ok := s.Armed(); ok {
		t.Fatal("scheduler must not re-arm itself after firing")
	}
	clock.Advance(2 * time.Hour)
	if fired.Load() != 1 {
		t.Fatalf("expected still one fire, got %d", fired.Load())
	}
}

func TestSchedulerRefusesTokenInsideSkew(t *testing.T) {
	clock := newFakeClock()
	var fired atomic.Int32
	s := newTestScheduler(clock, &fired)

	if s.Arm(mustMint(t, nil, clock.Now().Add(time.Minute))) {
		t.Fatal("token inside the skew window must not arm")
	}
	if s.Arm(mustMint(t, map[string]any{"sub": "1"}, time.Time{})) {
		t.Fatal("token without exp must not arm")
	}
	if s.Arm("garbage") {
		t.Fatal("malformed token must not arm")
	}
	if _, ok := s.Armed(); ok {
		t.Fatal("nothing should be armed")
	}
	if clock.pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clock.pending())
	}
}

func TestSchedulerRearmReplacesTimer(t *testing.T) {
	clock := newFakeClock()
	var fired atomic.Int32
	s := newTestScheduler(clock, &fired)

	s.Arm(mustMint(t, nil, clock.Now().Add(time.Hour)))
	s.Arm(mustMint(t, nil, clock.Now().Add(2*time.Hour)))
	if clock.pending() != 1 {
		t.Fatalf("expected exactly one pending timer, got %d", clock.pending())
	}

	clock.Advance(time.Hour)
	if fired.Load() != 0 {
		t.Fatal("replaced timer fired")
	}
	clock.Advance(time.Hour)
	if fired.Load() != 1 {
		t.Fatalf("expected one fire, got %d", fired.Load())
	}
}

func TestSchedulerArmInsideSkewCancelsPrevious(t *testing.T) {
	clock := newFakeClock()
	var fired atomic.Int32
	s := newTestScheduler(clock, &fired)

	s.Arm(mustMint(t, nil, clock.Now().Add(time.Hour)))
	if s.Arm(mustMint(t, nil, clock.Now().Add(time.Minute))) {
		t.Fatal("expected second arm to be refused")
	}
	clock.Advance(2 * time.Hour)
	if fired.Load() != 0 {
		t.Fatal("previous timer survived a refused arm")
	}
}

func TestSchedulerCancel(t *testing.T) {
	clock := newFakeClock()
	var fired atomic.Int32
	s := newTestScheduler(clock, &fired)

	s.Cancel()
	s.Arm(mustMint(t, nil, clock.Now().Add(time.Hour)))
	s.Cancel()
	s.Cancel()
	if _, ok := s.Armed(); ok {
		t.Fatal("expected nothing armed after cancel")
	}
	clock.Advance(2 * time.Hour)
	if fired.Load() != 0 {
		t.Fatal("cancelled timer fired")
	}
}

func TestSchedulerIgnoresStaleFire(t *testing.T) {
	clock := newFakeClock()
	var fired atomic.Int32
	s := newTestScheduler(clock, &fired)

	s.Arm(mustMint(t, nil, clock.Now().Add(time.Hour)))
	s.mu.Lock()
	stale := s.gen
	s.mu.Unlock()

	s.Arm(mustMint(t, nil, clock.Now().Add(2*time.Hour)))
	s.fire(stale)
	if fired.Load() != 0 {
		t.Fatal("stale generation fired the callback")
	}
	if _, ok := s.Armed(); !ok {
		t.Fatal("stale fire disarmed the current timer")
	}
}
