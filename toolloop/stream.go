// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"context"
	"sync"
)

// EventKind identifies what an [Event] reports.
type EventKind string

const (
	// EventTurnAppended reports a turn appended to the session history.
	EventTurnAppended EventKind = "turnAppended"

	// EventStateChanged reports a transition of the run state machine.
	EventStateChanged EventKind = "stateChanged"
)

// Event is a progress notification emitted during a run.
type Event struct {
	Kind      EventKind
	SessionID string
	State     State
	TurnCount int

	// Turn is set for EventTurnAppended.
	Turn *Turn
}

// ResponseStream provides a pull-based iterator over values produced by a
// goroutine, with error propagation and cleanup guarantees.
//
// Callers must call Close when done, or use a context with cancellation.
type ResponseStream[T any] struct {
	ch        <-chan T
	errCh     <-chan error
	cancel    context.CancelFunc
	closeOnce sync.Once
	err       error
	drained   bool
}

// NewResponseStream creates a ResponseStream by running producer in a goroutine.
// The channel is closed automatically when the producer returns.
func NewResponseStream[T any](ctx context.Context, producer func(ctx context.Context, ch chan<- T) error) *ResponseStream[T] {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan T, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(ch)
		if err := producer(ctx, ch); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	return &ResponseStream[T]{
		ch:     ch,
		errCh:  errCh,
		cancel: cancel,
	}
}

// Next returns the next value from the stream.
// ok is false when the stream is exhausted. err is non-nil on failure.
func (s *ResponseStream[T]) Next(ctx context.Context) (val T, ok bool, err error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case v, open := <-s.ch:
		if !open {
			s.drained = true
			s.takeErr()
			var zero T
			return zero, false, s.err
		}
		return v, true, nil
	}
}

// takeErr records the producer error once the value channel is closed.
func (s *ResponseStream[T]) takeErr() {
	select {
	case e, ok := <-s.errCh:
		if ok && e != nil {
			s.err = e
		}
	default:
	}
}

// Collect drains the entire stream and returns all values.
func (s *ResponseStream[T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	for {
		val, ok, err := s.Next(ctx)
		if err != nil {
			return items, err
		}
		if !ok {
			return items, nil
		}
		items = append(items, val)
	}
}

// Close cancels the producer and releases resources.
// Safe to call multiple times.
func (s *ResponseStream[T]) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.ch {
		}
		s.drained = true
		s.takeErr()
	})
	return nil
}

// RunStream streams the [Event]s of a run and exposes its final [Result].
type RunStream struct {
	stream *ResponseStream[Event]
	result *Result
	err    error
}

// Next returns the next event of the run.
func (s *RunStream) Next(ctx context.Context) (Event, bool, error) {
	return s.stream.Next(ctx)
}

// Result drains the remaining events and returns the outcome of the run,
// exactly as [Orchestrator.Run] would have returned it.
func (s *RunStream) Result(ctx context.Context) (*Result, error) {
	for {
		_, ok, err := s.stream.Next(ctx)
		if err != nil || !ok {
			break
		}
	}
	if !s.stream.drained {
		return nil, ctx.Err()
	}
	return s.result, s.err
}

// Close cancels the run if it is still in progress.
func (s *RunStream) Close() error {
	return s.stream.Close()
}

// RunStream starts a run in the background and returns a stream of its
// events. Closing the stream cancels the run.
func (o *Orchestrator) RunStream(ctx context.Context, session *Session, prompt Prompt, registry ToolRegistry, opts ...RunOption) *RunStream {
	rs := &RunStream{}
	rs.stream = NewResponseStream(ctx, func(ctx context.Context, ch chan<- Event) error {
		var cfg runConfig
		for _, opt := range opts {
			opt(&cfg)
		}
		user := cfg.observer
		forward := func(ev Event) {
			if user != nil {
				user(ev)
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		rs.result, rs.err = o.Run(ctx, session, prompt, registry, append(opts, WithObserver(forward))...)
		return rs.err
	})
	return rs
}
