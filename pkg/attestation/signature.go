package attestation

import (
	"crypto/ed25519"
	"fmt"

	"github.com/alexhulbert/tdx-identity/pkg/types"
)

// VerifyMutualBinding checks both directions of an identity<->instance
// binding: the identity's signature over the instance public key, and the
// instance's signature over the identity public key. role is only used to
// label the error.
func VerifyMutualBinding(instancePubkey []byte, info *types.IdentityInfo, role types.Role) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("%s identity malformed: %w", role, err)
	}

	if !ed25519.Verify(ed25519.PublicKey(info.PublicKey), instancePubkey, info.InstanceSignature) {
		return fmt.Errorf("%s signature over instance pubkey failed verification", role)
	}
	if !ed25519.Verify(ed25519.PublicKey(instancePubkey), info.PublicKey, info.IdentitySignature) {
		return fmt.Errorf("instance signature over %s pubkey failed verification", role)
	}
	return nil
}

// VerifyInstanceSignature checks a single direction: that pubkey signed
// message. Used by the identity service to verify owner-originated
// request signatures (e.g. the x-signature header on workload/configure)
// independent of any stored IdentityInfo binding.
func VerifyInstanceSignature(pubkey, message, signature []byte) error {
	if len(pubkey) != ed25519.PublicKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pubkey))
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}
	if !ed25519.Verify(ed25519.PublicKey(pubkey), message, signature) {
		return fmt.Errorf("%s: signature verification failed", types.RoleInstance)
	}
	return nil
}
