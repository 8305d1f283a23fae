// Package memory records sent messages for tests and local runs. It is the
// beacon.MessageSink used when no real channel is wired.
package memory

import (
	"context"
	"sync"
)

// Sink stores sent messages for inspection.
type Sink struct {
	mu       sync.RWMutex
	messages []string
	err      error
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// SendMessage records text, or fails with the error set by FailWith.
func (s *Sink) SendMessage(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, text)
	return nil
}

// FailWith makes subsequent sends return err; nil restores success.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Messages returns a copy of the recorded messages.
func (s *Sink) Messages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of recorded messages.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
