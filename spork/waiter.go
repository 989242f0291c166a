package spork

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"time"
)

// messageWaiter is a pending WaitForMessage call
type messageWaiter struct {
	check func(m *discordgo.Message) bool
	ch    chan *discordgo.Message
}

// WaitForMessage blocks until a new message satisfying check arrives, the
// timeout passes (ErrWaitExpired), or ctx is done. Shutting down counts
// as the timeout passing.
func (s *Spork) WaitForMessage(
	ctx context.Context,
	check func(m *discordgo.Message) bool,
	timeout time.Duration,
) (*discordgo.Message, error) {
	w := &messageWaiter{check: check, ch: make(chan *discordgo.Message, 1)}

	s.waitersMu.Lock()
	s.waiters = append(s.waiters, w)
	s.waitersMu.Unlock()
	defer s.removeWaiter(w)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-w.ch:
		return m, nil
	case <-timer.C:
		return nil, ErrWaitExpired
	case <-s.stopping:
		return nil, ErrWaitExpired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Spork) removeWaiter(w *messageWaiter) {
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()
	for i, other := range s.waiters {
		if other == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// notifyWaiters hands m to every waiter whose check passes. Each waiter
// is satisfied at most once.
func (s *Spork) notifyWaiters(m *discordgo.Message) {
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()

	kept := s.waiters[:0]
	for _, w := range s.waiters {
		if w.check(m) {
			w.ch <- m
			continue
		}
		kept = append(kept, w)
	}
	s.waiters = kept
}

// pendingWaiters is the number of WaitForMessage calls in progress
func (s *Spork) pendingWaiters() int {
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()
	return len(s.waiters)
}
