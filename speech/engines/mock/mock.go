// Package mock provides a mock synthesizer for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/okabe15/panelvoice/speech"
)

// Engine implements speech.Synthesizer for testing. It records every
// request and supports injected failures and simulated latency.
type Engine struct {
	mu       sync.Mutex
	payload  []byte
	delay    time.Duration
	failErr  error
	calls    int
	requests []speech.Request
}

// New creates a mock engine returning a small deterministic payload.
func New() *Engine {
	return &Engine{
		payload: []byte("mock-audio-payload"),
	}
}

// Synthesize records the request and returns the configured payload
// after the configured delay.
func (e *Engine) Synthesize(ctx context.Context, req speech.Request) ([]byte, error) {
	e.mu.Lock()
	e.calls++
	e.requests = append(e.requests, req)
	delay := e.delay
	failErr := e.failErr
	payload := e.payload
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if failErr != nil {
		return nil, failErr
	}
	return payload, nil
}

// SetFailure makes subsequent calls return err. Pass nil to clear.
func (e *Engine) SetFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failErr = err
}

// SetDelay makes subsequent calls wait before responding.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// SetPayload sets the audio payload returned by subsequent calls. An
// empty payload simulates the backend's zero-byte failure mode.
func (e *Engine) SetPayload(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payload = data
}

// Calls returns how many times Synthesize was invoked.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// LastRequest returns the most recent request, or the zero value.
func (e *Engine) LastRequest() speech.Request {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.requests) == 0 {
		return speech.Request{}
	}
	return e.requests[len(e.requests)-1]
}

// Requests returns a copy of all recorded requests.
func (e *Engine) Requests() []speech.Request {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]speech.Request, len(e.requests))
	copy(out, e.requests)
	return out
}
