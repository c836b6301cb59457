package memory

import (
	"testing"

	"github.com/alexhulbert/tdx-identity/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := New()
	pubkey := []byte{1, 2, 3, 4}
	entry := &types.RegistryEntry{PPID: types.HexBytes{0xAA, 0xBB}}

	require.NoError(t, s.Put(pubkey, entry))

	got, err := s.Get(pubkey)
	require.NoError(t, err)
	require.Equal(t, entry.PPID, got.PPID)
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	s := New()
	got, err := s.Get([]byte{9, 9, 9})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_MutatingReturnedEntryDoesNotAffectStore(t *testing.T) {
	s := New()
	pubkey := []byte{5, 6, 7}
	entry := &types.RegistryEntry{PPID: types.HexBytes{0x01}}
	require.NoError(t, s.Put(pubkey, entry))

	got, err := s.Get(pubkey)
	require.NoError(t, err)
	got.PPID[0] = 0xFF

	got2, err := s.Get(pubkey)
	require.NoError(t, err)
	require.Equal(t, types.HexBytes{0x01}, got2.PPID)
}

func TestStore_ClosedRejectsOperations(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	_, err := s.Get([]byte{1})
	require.Error(t, err)

	err = s.Put([]byte{1}, &types.RegistryEntry{})
	require.Error(t, err)
}
