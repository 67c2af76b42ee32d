package dialogue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Session is one ongoing player and NPC conversation.
// All mutable fields are owned by the Orchestrator.
type Session struct {
	id       string
	voice    string
	deliver  DeliveryFunc
	logger   zerolog.Logger
	openedAt time.Time

	mu          sync.Mutex
	state       State
	token       uint64 // Incremented per question and on cancel; stale tokens never deliver
	pendingText string
	hasPending  bool
	cancel      context.CancelFunc
	closed      bool

	// Serializes deliveries so a question accepted from inside a callback
	// cannot overtake the one being delivered
	deliverMu sync.Mutex
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Voice returns the prebuilt voice bound to this conversation
func (s *Session) Voice() string {
	return s.voice
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether a question is in flight
func (s *Session) Busy() bool {
	return s.State().busy()
}

// Closed reports whether the session has been closed
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// begin marks the session busy for a new question and returns its token
func (s *Session) begin(cancel context.CancelFunc) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}
	if s.state.busy() {
		return 0, ErrSessionBusy
	}

	s.token++
	s.state = StateTextPending
	s.pendingText = ""
	s.hasPending = false
	s.cancel = cancel
	return s.token, nil
}

// setPending stores the text reply and moves to SpeechPending
func (s *Session) setPending(token uint64, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != token || s.state != StateTextPending {
		return false
	}
	s.pendingText = text
	s.hasPending = true
	s.state = StateSpeechPending
	return true
}

// takePending reads and clears the text reply at speech completion
func (s *Session) takePending(token uint64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != token || !s.hasPending {
		return "", false
	}
	text := s.pendingText
	s.pendingText = ""
	s.hasPending = false
	return text, true
}

// finish returns the session to Idle if token is still current
func (s *Session) finish(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != token || !s.state.busy() {
		return false
	}
	s.state = StateIdle
	s.pendingText = ""
	s.hasPending = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return true
}

// abandon invalidates the in-flight question, if any
func (s *Session) abandon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.busy() {
		return false
	}
	s.token++
	s.state = StateCancelled
	s.pendingText = ""
	s.hasPending = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return true
}

// markClosed closes the session; it reports false if it was already closed
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	return true
}
