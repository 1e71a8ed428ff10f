// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultMaxTurns is the turn budget of a session created without
// [WithSessionMaxTurns].
const DefaultMaxTurns = 5

// Session is the resumable state of one conversation: its append-only
// history, turn budget and dispatch mode. It is owned by the caller that
// created it; the orchestrator only holds it for the duration of a Run.
//
// A Session serializes to JSON (see [Session.MarshalJSON]) so a suspended
// conversation can be stored and resumed in another process.
type Session struct {
	mu              sync.Mutex
	id              string
	history         []Turn
	maxTurns        int
	turnCount       int
	explicitControl bool

	running atomic.Bool
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithSessionID sets the session identifier instead of generating one.
func WithSessionID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// WithSessionMaxTurns sets the number of model round-trips allowed per run.
func WithSessionMaxTurns(n int) SessionOption {
	return func(s *Session) { s.maxTurns = n }
}

// WithSessionExplicitControl makes runs return pending tool requests to the
// caller instead of dispatching them.
func WithSessionExplicitControl(on bool) SessionOption {
	return func(s *Session) { s.explicitControl = on }
}

// WithSessionHistory seeds the session with prior turns.
func WithSessionHistory(turns ...Turn) SessionOption {
	return func(s *Session) {
		for _, t := range turns {
			s.history = append(s.history, t.clone())
		}
	}
}

// NewSession creates a Session with a generated ID.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		id:       uuid.NewString(),
		maxTurns: DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// MaxTurns returns the turn budget.
func (s *Session) MaxTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxTurns
}

// TurnCount returns the number of model round-trips made by the latest run.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// ExplicitControl reports whether tool dispatch is deferred to the caller.
func (s *Session) ExplicitControl() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.explicitControl
}

// History returns a deep copy of the conversation history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

func (s *Session) historyLocked() []Turn {
	cp := make([]Turn, len(s.history))
	for i, t := range s.history {
		cp[i] = t.clone()
	}
	return cp
}

// Pending returns copies of the tool requests of the last turn when that
// turn is a model turn whose requests have not been answered yet.
func (s *Session) Pending() []*ToolRequestPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRequests(s.pendingLocked())
}

func cloneRequests(reqs []*ToolRequestPart) []*ToolRequestPart {
	if reqs == nil {
		return nil
	}
	out := make([]*ToolRequestPart, len(reqs))
	for i, r := range reqs {
		out[i] = r.clone()
	}
	return out
}

func (s *Session) pendingLocked() []*ToolRequestPart {
	if len(s.history) == 0 {
		return nil
	}
	last := s.history[len(s.history)-1]
	if last.Role != RoleModel {
		return nil
	}
	return last.ToolRequests()
}

func (s *Session) appendTurns(turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range turns {
		s.history = append(s.history, t.clone())
	}
}

func (s *Session) incrementTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCount++
	return s.turnCount
}

// acquire claims the session for a run. The returned release must be
// called when the run returns.
func (s *Session) acquire() (release func(), err error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, s.id)
	}
	return func() { s.running.Store(false) }, nil
}

// begin validates session state and applies run overrides, resetting the
// turn counter for a new run.
func (s *Session) begin(cfg *runConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.maxTurns != nil {
		s.maxTurns = *cfg.maxTurns
	}
	if cfg.explicitControl != nil {
		s.explicitControl = *cfg.explicitControl
	}
	if s.maxTurns < 1 {
		return fmt.Errorf("%w: max turns must be >= 1, got %d", ErrMalformedSession, s.maxTurns)
	}
	if err := validateHistory(s.history); err != nil {
		return err
	}
	s.turnCount = 0
	return nil
}

func validateHistory(history []Turn) error {
	for i := range history {
		if err := history[i].validate(); err != nil {
			return fmt.Errorf("history[%d]: %w", i, err)
		}
	}
	return checkToolPairing(history)
}

type sessionSnapshot struct {
	ID              string `json:"id"`
	MaxTurns        int    `json:"maxTurns"`
	TurnCount       int    `json:"turnCount"`
	ExplicitControl bool   `json:"explicitControl,omitempty"`
	History         []Turn `json:"history"`
}

// MarshalJSON serializes the session state.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(sessionSnapshot{
		ID:              s.id,
		MaxTurns:        s.maxTurns,
		TurnCount:       s.turnCount,
		ExplicitControl: s.explicitControl,
		History:         s.history,
	})
}

// UnmarshalJSON restores session state produced by MarshalJSON.
func (s *Session) UnmarshalJSON(data []byte) error {
	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	if snap.ID == "" {
		return fmt.Errorf("%w: missing session id", ErrMalformedSession)
	}
	if err := validateHistory(snap.History); err != nil {
		return fmt.Errorf("session %s: %w", snap.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = snap.ID
	s.maxTurns = snap.MaxTurns
	s.turnCount = snap.TurnCount
	s.explicitControl = snap.ExplicitControl
	s.history = snap.History
	return nil
}
