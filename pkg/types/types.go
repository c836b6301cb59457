// Package types holds the wire and storage types shared by the registry
// and identity services: identity bindings, registration requests, and the
// registry's persisted entry.
package types

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Role tags which side of a mutual-signature binding is being verified,
// used only to make error messages legible — it carries no protocol
// meaning of its own.
type Role string

const (
	RoleOperator Role = "operator"
	RoleOwner    Role = "owner"
	RoleInstance Role = "instance"
)

// IdentityInfo binds an external identity (operator or owner) to a TDX
// instance via two Ed25519 signatures: the identity's signature over the
// instance public key, and the instance's signature over the identity
// public key. Both must verify before the binding is accepted.
type IdentityInfo struct {
	PublicKey         HexBytes `json:"public_key"`
	InstanceSignature HexBytes `json:"instance_signature"`
	IdentitySignature HexBytes `json:"identity_signature"`
}

// Validate checks field lengths without verifying any signature.
func (i *IdentityInfo) Validate() error {
	if len(i.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(i.PublicKey))
	}
	if len(i.InstanceSignature) != ed25519.SignatureSize {
		return fmt.Errorf("instance signature must be %d bytes, got %d", ed25519.SignatureSize, len(i.InstanceSignature))
	}
	if len(i.IdentitySignature) != ed25519.SignatureSize {
		return fmt.Errorf("identity signature must be %d bytes, got %d", ed25519.SignatureSize, len(i.IdentitySignature))
	}
	return nil
}

// RegisterRequest is the body POSTed to the registry's /register endpoint.
type RegisterRequest struct {
	InstancePubkey   HexBytes      `json:"instance_pubkey"`
	PPID             HexBytes      `json:"ppid"`
	AttestationQuote Base64Bytes   `json:"attestation_quote"`
	Operator         *IdentityInfo `json:"operator,omitempty"`
	Owner            *IdentityInfo `json:"owner,omitempty"`
}

// RegistryEntry is the monotonic, grow-only record the registry keeps per
// instance public key. Once Operator or Owner is set it can only be
// replaced by an identical binding; PPID never changes after first write.
type RegistryEntry struct {
	PPID             HexBytes      `json:"ppid"`
	AttestationQuote Base64Bytes   `json:"attestation_quote"`
	Operator         *IdentityInfo `json:"operator,omitempty"`
	Owner            *IdentityInfo `json:"owner,omitempty"`
}

// WorkloadConfig is the owner-supplied container configuration persisted on
// the encrypted volume once the instance reaches S3 (Configured).
type WorkloadConfig struct {
	Image       string   `json:"image"`
	Port        uint16   `json:"port,omitempty"`
	PersistDirs []string `json:"persist_dirs,omitempty"`
	Finalized   bool     `json:"finalized"`
}

// HexBytes (de)serializes as a lowercase hex string in JSON, matching the
// original Rust `hex_serde` helper used for pubkeys/signatures/PPID.
type HexBytes []byte

func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

func (h *HexBytes) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid hex encoding: %w", err)
	}
	*h = decoded
	return nil
}

func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}

// Base64Bytes (de)serializes as standard base64 in JSON, matching the
// original Rust `base64_serde` helper used for the attestation quote.
type Base64Bytes []byte

func (b Base64Bytes) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(b)), nil
}

func (b *Base64Bytes) UnmarshalText(text []byte) error {
	decoded, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid base64 encoding: %w", err)
	}
	*b = decoded
	return nil
}
