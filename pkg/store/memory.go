package store

import (
	"context"
	"errors"
	"sync"

	"github.com/go-training/sevenpass-client/pkg/core"
)

var (
	// ErrTokensNotFound is returned when no token set is stored for a client.
	ErrTokensNotFound = errors.New("token set not found")
	// ErrNilRecord is returned when attempting to save a nil token record.
	ErrNilRecord = errors.New("token record cannot be nil")
	// ErrEmptyClientID is returned when the client ID string is empty.
	ErrEmptyClientID = errors.New("client ID cannot be empty")
)

// MemoryStore implements the core.TokenStore interface using an in-memory map.
// Records are copied on the way in and out so callers cannot alias stored state.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]core.TokenRecord
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]core.TokenRecord),
	}
}

// SaveTokens stores the token set of record.ClientID, replacing any previous one.
func (m *MemoryStore) SaveTokens(ctx context.Context, record *core.TokenRecord) error {
	if record == nil {
		return ErrNilRecord
	}
	if record.ClientID == "" {
		return ErrEmptyClientID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[record.ClientID] = *record
	return nil
}

// LoadTokens returns the stored token set of clientID.
// It returns ErrTokensNotFound if nothing is stored.
func (m *MemoryStore) LoadTokens(ctx context.Context, clientID string) (*core.TokenRecord, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.tokens[clientID]
	if !exists {
		return nil, ErrTokensNotFound
	}
	return &record, nil
}

// DeleteTokens removes the token set of clientID. Deleting a missing set is not an error.
func (m *MemoryStore) DeleteTokens(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ErrEmptyClientID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tokens, clientID)
	return nil
}
