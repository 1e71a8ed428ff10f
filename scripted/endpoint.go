// Copyright (c) Microsoft. All rights reserved.

package scripted

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jggomez/toolloop/toolloop"
)

// Step is one scripted reply: a response, or an error returned in its place.
type Step struct {
	Response *toolloop.ModelResponse
	Err      error

	// Delay is waited before replying. The wait ends early if the context
	// is cancelled.
	Delay time.Duration
}

// Text returns a step replying with a final text answer.
func Text(text string) Step {
	return Step{Response: toolloop.NewFinalResponse(text)}
}

// ToolRequests returns a step replying with tool requests.
func ToolRequests(reqs ...*toolloop.ToolRequestPart) Step {
	return Step{Response: toolloop.NewToolRequestResponse(reqs...)}
}

// Fail returns a step replying with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Call records the arguments of one Invoke.
type Call struct {
	History []toolloop.Turn
	Tools   []toolloop.ToolDeclaration
	Config  *toolloop.GenerationConfig
}

// Endpoint replays its steps in order, one per Invoke. It is safe for
// concurrent use.
type Endpoint struct {
	mu    sync.Mutex
	steps []Step
	next  int
	calls []Call
}

var _ toolloop.ModelEndpoint = (*Endpoint)(nil)

// New creates an Endpoint replaying steps.
func New(steps ...Step) *Endpoint {
	return &Endpoint{steps: steps}
}

// Invoke returns the next scripted step. Once the script is exhausted it
// fails with an error wrapping [toolloop.ErrInvalidRequest].
func (e *Endpoint) Invoke(ctx context.Context, history []toolloop.Turn, tools []toolloop.ToolDeclaration, cfg *toolloop.GenerationConfig) (*toolloop.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.calls = append(e.calls, Call{History: history, Tools: tools, Config: cfg})
	if e.next >= len(e.steps) {
		n := len(e.steps)
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: script exhausted after %d steps", toolloop.ErrInvalidRequest, n)
	}
	step := e.steps[e.next]
	e.next++
	e.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Calls returns the recorded calls in order.
func (e *Endpoint) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]Call, len(e.calls))
	copy(cp, e.calls)
	return cp
}

// Remaining returns the number of steps not yet replayed.
func (e *Endpoint) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.steps) - e.next
}

// Reset rewinds the script and clears recorded calls.
func (e *Endpoint) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next = 0
	e.calls = nil
}
