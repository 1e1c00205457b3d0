package agent

import (
	"context"
	"sync"

	"loom/internal/types"
)

// StreamRequest describes one backend run. A non-empty ForkSessionID asks the
// backend to fork from that session's history instead of continuing it;
// ResumeAnchorUUID is the last shared message of the fork (empty means fork
// from an empty history).
type StreamRequest struct {
	Prompt           string
	Attachments      []types.Attachment
	SessionID        string
	ForkSessionID    string
	ResumeAnchorUUID string
	Options          *types.SessionOptions
}

// Backend is the injected agent execution service. StreamTurns opens an
// unbounded, non-restartable turn sequence; cancelling the context tears the
// run down. LoadPersistedTurns fetches the stored transcript of a session.
type Backend interface {
	StreamTurns(ctx context.Context, req StreamRequest) (*Stream, error)
	LoadPersistedTurns(ctx context.Context, sessionID string) ([]types.Turn, error)
}

// Stream delivers turns in emission order. Turns() is closed when the run
// ends; Err() reports the terminal error, if any, once the channel is closed.
type Stream struct {
	turns chan types.Turn

	mu  sync.Mutex
	err error
}

// NewStream allocates a stream with the given channel buffer. Backend
// implementations outside this package use it together with Finish.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 16
	}
	return &Stream{turns: make(chan types.Turn, buffer)}
}

func (s *Stream) Turns() <-chan types.Turn {
	return s.turns
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Finish records the terminal error and closes the turn channel. It must be
// called exactly once, by the producing goroutine.
func (s *Stream) Finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.turns)
}
