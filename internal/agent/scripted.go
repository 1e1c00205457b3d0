package agent

import (
	"context"
	"fmt"
	"sync"

	"loom/internal/types"
)

// ScriptedBackend replays pre-defined turn sequences. It is the Backend used
// by tests and by `loom daemon --dry-run`.
type ScriptedBackend struct {
	mu        sync.Mutex
	scripts   [][]types.Turn
	persisted map[string][]types.Turn
	requests  []StreamRequest
	active    int
}

func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{persisted: make(map[string][]types.Turn)}
}

// Script queues the turn sequence for the next StreamTurns call.
func (b *ScriptedBackend) Script(turns ...types.Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts = append(b.scripts, turns)
}

// Persist registers the transcript returned by LoadPersistedTurns.
func (b *ScriptedBackend) Persist(sessionID string, turns ...types.Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.persisted[sessionID] = turns
}

// Requests returns every StreamRequest seen so far.
func (b *ScriptedBackend) Requests() []StreamRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]StreamRequest{}, b.requests...)
}

// ActiveStreams reports how many scripted streams are currently open.
func (b *ScriptedBackend) ActiveStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *ScriptedBackend) StreamTurns(ctx context.Context, req StreamRequest) (*Stream, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	if len(b.scripts) == 0 {
		b.mu.Unlock()
		return nil, fmt.Errorf("no scripted turns for request %q", req.Prompt)
	}
	turns := b.scripts[0]
	b.scripts = b.scripts[1:]
	b.active++
	b.mu.Unlock()

	stream := NewStream(len(turns) + 1)
	go func() {
		defer func() {
			b.mu.Lock()
			b.active--
			b.mu.Unlock()
		}()
		for _, turn := range turns {
			select {
			case stream.turns <- turn:
			case <-ctx.Done():
				stream.Finish(ctx.Err())
				return
			}
		}
		stream.Finish(nil)
	}()
	return stream, nil
}

func (b *ScriptedBackend) LoadPersistedTurns(ctx context.Context, sessionID string) ([]types.Turn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	turns, ok := b.persisted[sessionID]
	if !ok {
		return nil, fmt.Errorf("no persisted turns for session %s", sessionID)
	}
	return append([]types.Turn{}, turns...), nil
}
