package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestMatchesOwnerKey_AcceptsExactSuffix(t *testing.T) {
	ownerPub, ownerPriv, _ := ed25519.GenerateKey(rand.Reader)
	signer, err := ssh.NewSignerFromKey(ownerPriv)
	if err != nil {
		t.Fatalf("failed to build signer: %v", err)
	}
	presented := signer.PublicKey().Marshal()

	if !matchesOwnerKey(presented, ownerPub) {
		t.Error("expected the owner's own key to match")
	}
}

func TestMatchesOwnerKey_RejectsDifferentKey(t *testing.T) {
	ownerPub, _, _ := ed25519.GenerateKey(rand.Reader)
	_, otherPriv, _ := ed25519.GenerateKey(rand.Reader)
	signer, _ := ssh.NewSignerFromKey(otherPriv)
	presented := signer.PublicKey().Marshal()

	if matchesOwnerKey(presented, ownerPub) {
		t.Error("expected a different key to be rejected")
	}
}

func TestFreshHostKey_ProducesValidSigner(t *testing.T) {
	signer, err := freshHostKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signer.PublicKey() == nil {
		t.Error("expected a non-nil public key")
	}
}
