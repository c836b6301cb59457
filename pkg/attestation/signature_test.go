package attestation

import (
	"crypto/ed25519"
	"testing"

	"github.com/alexhulbert/tdx-identity/pkg/types"
	"github.com/stretchr/testify/require"
)

func buildBinding(t *testing.T, instancePub ed25519.PublicKey, instancePriv ed25519.PrivateKey) (*types.IdentityInfo, ed25519.PrivateKey) {
	t.Helper()
	identityPub, identityPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	return &types.IdentityInfo{
		PublicKey:         types.HexBytes(identityPub),
		InstanceSignature: types.HexBytes(ed25519.Sign(identityPriv, instancePub)),
		IdentitySignature: types.HexBytes(ed25519.Sign(instancePriv, identityPub)),
	}, identityPriv
}

func TestVerifyMutualBinding_RoundTrip(t *testing.T) {
	instancePub, instancePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	info, _ := buildBinding(t, instancePub, instancePriv)

	for _, role := range []types.Role{types.RoleOperator, types.RoleOwner} {
		require.NoError(t, VerifyMutualBinding(instancePub, info, role))
	}
}

func TestVerifyMutualBinding_CorruptedSignatureFails(t *testing.T) {
	instancePub, instancePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	info, _ := buildBinding(t, instancePub, instancePriv)

	corrupted := *info
	corruptedSig := append(types.HexBytes{}, info.IdentitySignature...)
	corruptedSig[0] ^= 0xFF
	corrupted.IdentitySignature = corruptedSig

	require.Error(t, VerifyMutualBinding(instancePub, &corrupted, types.RoleOperator))
}

func TestVerifyMutualBinding_CorruptedPubkeyFails(t *testing.T) {
	instancePub, instancePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	info, _ := buildBinding(t, instancePub, instancePriv)

	corrupted := *info
	corruptedPub := append(types.HexBytes{}, info.PublicKey...)
	corruptedPub[0] ^= 0xFF
	corrupted.PublicKey = corruptedPub

	require.Error(t, VerifyMutualBinding(instancePub, &corrupted, types.RoleOwner))
}

func TestVerifyInstanceSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	msg := []byte("request body bytes")
	sig := ed25519.Sign(priv, msg)

	require.NoError(t, VerifyInstanceSignature(pub, msg, sig))
	require.Error(t, VerifyInstanceSignature(pub, []byte("tampered"), sig))
}
