// Package gate rejects a second submission from the same form session while
// the first is still being processed.
package gate

import (
	"context"
	"sync"

	"repairpos/backend/internal/apperr"
)

// Gate hands out one in-flight token per session. Acquire either returns a
// release func, which the caller defers, or SUBMISSION_IN_FLIGHT.
type Gate interface {
	Acquire(ctx context.Context, session string) (release func(), err error)
}

func inFlight(session string) error {
	return apperr.New(apperr.SubmissionInFlight, map[string]string{"session": session})
}

func noop() {}

type Memory struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{inFlight: make(map[string]struct{})}
}

func (g *Memory) Acquire(_ context.Context, session string) (func(), error) {
	if session == "" {
		return noop, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[session]; busy {
		return nil, inFlight(session)
	}
	g.inFlight[session] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, session)
			g.mu.Unlock()
		})
	}, nil
}
