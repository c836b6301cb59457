package attestation

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildCertData(certType uint16, payload []byte) []byte {
	buf := make([]byte, certDataHeaderLen+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], certType)
	binary.LittleEndian.PutUint32(buf[2:6], uint32(len(payload)))
	copy(buf[certDataHeaderLen:], payload)
	return buf
}

func TestExtractPPID_RSA2048(t *testing.T) {
	payload := make([]byte, ppidRSA2048Len)
	for i := range payload {
		payload[i] = byte(i)
	}
	blob := buildCertData(certTypePPIDRSA2048, payload)

	ppid, err := ExtractPPID(nil, blob)
	require.NoError(t, err)
	require.Equal(t, payload, ppid)
}

func TestExtractPPID_RSA3072(t *testing.T) {
	payload := make([]byte, ppidRSA3072Len)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	blob := buildCertData(certTypePPIDRSA3072, payload)

	ppid, err := ExtractPPID(nil, blob)
	require.NoError(t, err)
	require.Equal(t, payload, ppid)
}

func TestExtractPPID_UnsupportedCertType(t *testing.T) {
	blob := buildCertData(4, make([]byte, 8))
	_, err := ExtractPPID(nil, blob)
	require.ErrorIs(t, err, ErrNotEncryptedPPID)
}

func TestExtractPPID_TooShort(t *testing.T) {
	_, err := ExtractPPID(nil, []byte{1, 2, 3, 4})
	require.True(t, errors.Is(err, ErrInvalidDataLength))
}

func TestExtractPPID_IncludesPCEIDInPayload(t *testing.T) {
	payload := make([]byte, ppidRSA2048Len+2)
	payload[ppidRSA2048Len] = 0xAB
	payload[ppidRSA2048Len+1] = 0xCD
	blob := buildCertData(certTypePPIDRSA2048, payload)

	ppid, err := ExtractPPID(nil, blob)
	require.NoError(t, err)
	require.Len(t, ppid, ppidRSA2048Len)
}

func FuzzExtractPPID(f *testing.F) {
	f.Add(buildCertData(certTypePPIDRSA2048, make([]byte, ppidRSA2048Len)))
	f.Add(buildCertData(certTypePPIDRSA3072, make([]byte, ppidRSA3072Len)))
	f.Add([]byte{0, 0})
	f.Fuzz(func(t *testing.T, blob []byte) {
		// Must never panic regardless of input shape.
		_, _ = ExtractPPID(nil, blob)
	})
}
