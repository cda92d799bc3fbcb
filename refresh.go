package sessionx

import (
	"context"
	"fmt"
	"sync"
)

// refreshCall is one in-flight refresh. done is closed once pair and err are
// final; every waiter reads the same outcome.
type refreshCall struct {
	done chan struct{}
	pair TokenPair
	err  error
}

// refreshCoordinator is the IDLE/REFRESHING machine. inflight == nil is IDLE.
// A caller arriving while REFRESHING waits for the running call instead of
// starting another, so concurrent callers produce one remote refresh.
type refreshCoordinator struct {
	mu       sync.Mutex
	inflight *refreshCall
	onWait   func()
}

// do runs fn unless a call is already in flight, then waits for the outcome.
// fn runs on its own goroutine so one caller giving up does not fail the
// others; ctx only bounds how long this caller waits.
func (c *refreshCoordinator) do(ctx context.Context, fn func() (TokenPair, error)) (TokenPair, error) {
	c.mu.Lock()
	call := c.inflight
	if call == nil {
		call = &refreshCall{done: make(chan struct{})}
		c.inflight = call
		go c.run(call, fn)
	} else if c.onWait != nil {
		c.onWait()
	}
	c.mu.Unlock()

	select {
	case <-call.done:
		return call.pair, call.err
	case <-ctx.Done():
		return TokenPair{}, ctx.Err()
	}
}

func (c *refreshCoordinator) run(call *refreshCall, fn func() (TokenPair, error)) {
	defer func() {
		if r := recover(); r != nil {
			call.pair, call.err = TokenPair{}, newError(ErrCodeInternal, fmt.Errorf("refresh panicked: %v", r))
		}
		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
		close(call.done)
	}()
	call.pair, call.err = fn()
}

// refreshing reports whether the coordinator is in the REFRESHING state.
func (c *refreshCoordinator) refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}
