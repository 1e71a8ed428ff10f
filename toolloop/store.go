// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// SessionStore persists [Session] state between runs.
type SessionStore interface {
	// Save stores a snapshot of the session, replacing any previous one.
	Save(ctx context.Context, s *Session) error

	// Load restores the session with the given id. It returns an error
	// wrapping [ErrSessionNotFound] when no snapshot exists.
	Load(ctx context.Context, id string) (*Session, error)

	// Delete removes the session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

// InMemoryStore is a [SessionStore] keeping JSON snapshots in memory.
// Loaded sessions never alias a session that was saved.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewInMemoryStore creates an empty [InMemoryStore].
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]byte)}
}

func (s *InMemoryStore) Save(_ context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID()] = data
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	data, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess := &Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return sess, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
