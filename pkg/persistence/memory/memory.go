// Package memory is an in-memory RegistryStore for tests, adapted from the
// teacher's in-memory persistence backend (same RWMutex + deep-copy shape).
package memory

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/alexhulbert/tdx-identity/pkg/types"
)

// Store is an in-memory implementation of persistence.RegistryStore.
// Intended for TESTING ONLY: all data is lost when the process exits.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*types.RegistryEntry
	closed  bool
}

// New creates a new in-memory registry store.
func New() *Store {
	return &Store{
		entries: make(map[string]*types.RegistryEntry),
	}
}

func (s *Store) Get(instancePubkey []byte) (*types.RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	entry, ok := s.entries[hex.EncodeToString(instancePubkey)]
	if !ok {
		return nil, nil
	}
	return deepCopy(entry), nil
}

func (s *Store) Put(instancePubkey []byte, entry *types.RegistryEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot store nil RegistryEntry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	s.entries[hex.EncodeToString(instancePubkey)] = deepCopy(entry)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return nil
}

func deepCopy(e *types.RegistryEntry) *types.RegistryEntry {
	if e == nil {
		return nil
	}
	cp := &types.RegistryEntry{
		PPID:             append(types.HexBytes{}, e.PPID...),
		AttestationQuote: append(types.Base64Bytes{}, e.AttestationQuote...),
	}
	if e.Operator != nil {
		op := *e.Operator
		cp.Operator = &op
	}
	if e.Owner != nil {
		own := *e.Owner
		cp.Owner = &own
	}
	return cp
}
