package attestation

import (
	"crypto/ed25519"
	"testing"

	"github.com/alexhulbert/tdx-identity/pkg/types"
	"github.com/stretchr/testify/require"
)

func randIdentity(t *testing.T) *types.IdentityInfo {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return &types.IdentityInfo{
		PublicKey:         types.HexBytes(pub),
		InstanceSignature: types.HexBytes(ed25519.Sign(priv, []byte("instance"))),
		IdentitySignature: types.HexBytes(ed25519.Sign(priv, []byte("identity"))),
	}
}

func TestBuildAttestationHash_Deterministic(t *testing.T) {
	instancePub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	ppid := []byte("ppid-bytes")
	op := randIdentity(t)
	own := randIdentity(t)

	h1 := BuildAttestationHash(instancePub, ppid, op, own)
	h2 := BuildAttestationHash(instancePub, ppid, op, own)
	require.Equal(t, h1, h2)
}

func TestBuildAttestationHash_OmitsAbsentFields(t *testing.T) {
	instancePub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	ppid := []byte("ppid-bytes")

	withNeither := BuildAttestationHash(instancePub, ppid, nil, nil)
	withOperator := BuildAttestationHash(instancePub, ppid, randIdentity(t), nil)
	require.NotEqual(t, withNeither, withOperator)
}

func TestBuildAttestationHash_OrderSensitive(t *testing.T) {
	instancePub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	ppid := []byte("ppid-bytes")
	op := randIdentity(t)
	own := randIdentity(t)

	opThenOwner := BuildAttestationHash(instancePub, ppid, op, own)
	ownerThenOp := BuildAttestationHash(instancePub, ppid, own, op)
	require.NotEqual(t, opThenOwner, ownerThenOp)
}

func FuzzBuildAttestationHash(f *testing.F) {
	f.Add([]byte("instance-pubkey-32-bytes-long!!!"), []byte("ppid"))
	f.Fuzz(func(t *testing.T, instancePub, ppid []byte) {
		h1 := BuildAttestationHash(instancePub, ppid, nil, nil)
		h2 := BuildAttestationHash(instancePub, ppid, nil, nil)
		if h1 != h2 {
			t.Fatalf("attestation hash not deterministic for identical inputs")
		}
	})
}
