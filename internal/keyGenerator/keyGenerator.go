// Package keyGenerator defines the instance Ed25519 signing key interface:
// one key per process, generated once on first boot, never rotated.
package keyGenerator

import "context"

// InstanceKeySource generates-or-loads the enclave's long-lived Ed25519
// instance key and signs with it. Implementations: a local on-disk raw
// seed file or AWS KMS (an optional custody backend for non-bare-metal
// deployments).
type InstanceKeySource interface {
	// GenerateOrLoad returns the instance public key, generating and
	// persisting a new key on first call and loading the existing one on
	// subsequent calls. Idempotent across process restarts.
	GenerateOrLoad(ctx context.Context) (publicKey []byte, err error)

	// PublicKey returns the already-loaded instance public key. Must be
	// called after GenerateOrLoad.
	PublicKey() []byte

	// Sign signs message with the instance private key.
	Sign(ctx context.Context, message []byte) (signature []byte, err error)
}
