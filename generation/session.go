package generation

import (
	"context"
	"errors"
	"sync"

	"github.com/casualjim/chatwire/pkg/uuidx"
	"github.com/casualjim/chatwire/provider"
)

var (
	// ErrCanceled is the result of a session stopped by Cancel.
	ErrCanceled = errors.New("generation canceled")
	// ErrTargetRemoved is the result of a session whose reply or conversation
	// was removed while it ran.
	ErrTargetRemoved = errors.New("generation target was removed")
)

// State is the phase a session is in.
type State int

const (
	Idle State = iota
	Dispatching
	Streaming
	Completing
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case Streaming:
		return "streaming"
	case Completing:
		return "completing"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Session is one in-flight reply. It is never persisted.
type Session struct {
	ID             string
	ConversationID string
	Target         provider.Target

	mu          sync.Mutex
	state       State
	promptID    string
	messageID   string
	accumulated int
	stopped     bool
	cause       error
	cancel      context.CancelCauseFunc
	err         error
	done        chan struct{}
}

func newSession(conversationID string) *Session {
	return &Session{
		ID:             uuidx.NewString(),
		ConversationID: conversationID,
		done:           make(chan struct{}),
	}
}

// State returns the current phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MessageID returns the id of the assistant message, empty until the first
// text arrived.
func (s *Session) MessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageID
}

// Accumulated returns the number of bytes of reply text applied so far.
func (s *Session) Accumulated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated
}

// Done is closed once the session is back to Idle.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns its result. Errors returned
// here were already written into the conversation, except ErrCanceled and
// ErrTargetRemoved.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the result of a finished session, nil while it runs or when it
// completed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// stop prevents any further ledger writes by the session. It reports false
// when the session was already stopped.
func (s *Session) stop(cause error) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.stopped = true
	s.cause = cause
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel(cause)
	}
	return true
}

func (s *Session) setCancel(cancel context.CancelCauseFunc) {
	s.mu.Lock()
	s.cancel = cancel
	stopped, cause := s.stopped, s.cause
	s.mu.Unlock()

	if stopped {
		cancel(cause)
	}
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
