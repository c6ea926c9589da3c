// Package mock provides an in-memory mock implementation of [engine.Engine]
// for use in unit tests.
//
// The mock records every call and allows the test to configure return values
// via exported fields. It is safe for concurrent use.
//
// Example:
//
//	e := &mock.Engine{
//	    Result: &engine.Result{Transcript: "Szia", Reply: "Üdv, Michael.", Audio: wav},
//	}
//	res, err := e.Process(ctx, payload)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/kitt/internal/engine"
	"github.com/MrWong99/kitt/pkg/audio"
)

// Compile-time interface assertion.
var _ engine.Engine = (*Engine)(nil)

// Engine is a mock implementation of [engine.Engine].
type Engine struct {
	mu sync.Mutex

	// Result is returned by Process (copied). A nil Result yields an empty one.
	Result *engine.Result

	// Err is the error returned by Process alongside Result.
	Err error

	// Block, if non-nil, makes Process wait until it is closed or the context
	// is cancelled.
	Block chan struct{}

	// Started, if non-nil, receives one value when Process begins.
	Started chan struct{}

	// Calls records the payload of every Process invocation. Data is copied.
	Calls []audio.Payload
}

// Process records the call and returns Result, Err.
func (e *Engine) Process(ctx context.Context, payload audio.Payload) (*engine.Result, error) {
	e.mu.Lock()
	rec := payload
	rec.Data = append([]byte(nil), payload.Data...)
	e.Calls = append(e.Calls, rec)
	block, started := e.Block, e.Started
	e.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return &engine.Result{}, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	res := &engine.Result{}
	if e.Result != nil {
		*res = *e.Result
	}
	return res, e.Err
}

// CallCount returns the number of Process calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = nil
}
