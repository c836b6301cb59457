// Package attestation implements the cryptographic primitives shared by the
// registry and identity services: the attestation report-data hash, mutual
// Ed25519 signature verification, and TDX quote PPID extraction.
package attestation

import (
	"crypto/sha512"

	"github.com/alexhulbert/tdx-identity/pkg/types"
)

// BuildAttestationHash computes the SHA-512 commitment embedded as TDX
// report-data: instance_pubkey || ppid || operator-fields || owner-fields,
// with operator/owner fields omitted entirely (not zero-padded) when the
// corresponding identity is not yet bound. The hash is built from state
// that must already be durably persisted by the time this is called, so a
// restart can always reconstruct the same hash it last submitted.
func BuildAttestationHash(instancePubkey, ppid []byte, operator, owner *types.IdentityInfo) [64]byte {
	h := sha512.New()
	h.Write(instancePubkey)
	h.Write(ppid)
	writeIdentity(h, operator)
	writeIdentity(h, owner)

	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

func writeIdentity(h hashWriter, info *types.IdentityInfo) {
	if info == nil {
		return
	}
	h.Write(info.PublicKey)
	h.Write(info.InstanceSignature)
	h.Write(info.IdentitySignature)
}
