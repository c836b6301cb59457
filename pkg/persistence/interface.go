// Package persistence defines the registry's key-value storage interface
// and the sled-style flat single-key semantics its backends preserve: one
// Get/Put per instance public key, no transactions spanning keys.
package persistence

import "github.com/alexhulbert/tdx-identity/pkg/types"

// RegistryStore persists the registry's instance_pubkey -> RegistryEntry
// map. All implementations must be safe for concurrent use.
type RegistryStore interface {
	// Get retrieves the entry for instancePubkey (hex-free raw bytes).
	// Returns nil, nil if no entry exists; error only on storage failure.
	Get(instancePubkey []byte) (*types.RegistryEntry, error)

	// Put stores (overwriting) the entry for instancePubkey. Callers are
	// responsible for enforcing monotonicity before calling Put; the store
	// itself is a dumb key-value map.
	Put(instancePubkey []byte, entry *types.RegistryEntry) error

	// Close cleanly shuts down the store. Idempotent.
	Close() error

	// HealthCheck verifies the store is operational.
	HealthCheck() error
}
