package sessionx

import (
	"context"
	"sync"
)

// State holds the current identity and broadcasts every change to observers.
// New observers receive the current value first.
type State struct {
	mu      sync.RWMutex
	current *Identity
	subs    map[*subscriber]struct{}
}

type subscriber struct {
	ch chan *Identity
}

// NewState returns an empty (logged out) State.
func NewState() *State {
	return &State{subs: make(map[*subscriber]struct{})}
}

// Current returns the current identity, nil when logged out.
func (s *State) Current() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the current identity and notifies observers.
func (s *State) Set(identity *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = identity
	for sub := range s.subs {
		sub.offer(identity)
	}
}

// Observe streams the current identity followed by every later change until
// ctx is done. A slow reader only ever sees the latest value.
func (s *State) Observe(ctx context.Context) <-chan *Identity {
	sub := &subscriber{ch: make(chan *Identity, 1)}

	s.mu.Lock()
	sub.offer(s.current)
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	out := make(chan *Identity)
	go func() {
		defer close(out)
		defer s.unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case identity := <-sub.ch:
				select {
				case out <- identity:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (s *State) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// offer stores identity in the one-slot mailbox, displacing an unread value.
// Callers hold State.mu, so offers never race each other.
func (sub *subscriber) offer(identity *Identity) {
	select {
	case <-sub.ch:
	default:
	}
	sub.ch <- identity
}
