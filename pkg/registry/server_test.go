package registry

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexhulbert/tdx-identity/pkg/attestation"
	"github.com/alexhulbert/tdx-identity/pkg/logger"
	"github.com/alexhulbert/tdx-identity/pkg/persistence/memory"
	"github.com/alexhulbert/tdx-identity/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(context.Context, *attestation.Quote, *attestation.Collateral, time.Time) error {
	return nil
}

type fakeFetcher struct{}

func (fakeFetcher) FetchCollateral(context.Context, *attestation.Quote) (*attestation.Collateral, error) {
	return &attestation.Collateral{FetchedAt: time.Now()}, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: true})
	require.NoError(t, err)
	return NewServer(memory.New(), l, VerifierDeps{SkipTDXAuth: true})
}

func buildRegisterRequest(t *testing.T, instancePub ed25519.PublicKey, instancePriv ed25519.PrivateKey, ppid []byte, operator *types.IdentityInfo) *types.RegisterRequest {
	t.Helper()
	hash := attestation.BuildAttestationHash(instancePub, ppid, operator, nil)
	quote := syntheticQuote(t, hash)

	return &types.RegisterRequest{
		InstancePubkey:   types.HexBytes(instancePub),
		PPID:             types.HexBytes(ppid),
		AttestationQuote: types.Base64Bytes(quote),
		Operator:         operator,
	}
}

// syntheticQuote builds a minimal well-formed TDX quote byte string whose
// report-data equals hash, for exercising the handler without real TDX
// hardware or a mock quote service (see pkg/identity/tdxquote for that).
func syntheticQuote(t *testing.T, hash [64]byte) []byte {
	t.Helper()
	reportBody := make([]byte, 584)
	copy(reportBody[584-64:], hash[:])

	sigData := make([]byte, 128+6)
	// an all-zero cert-data header (cert-type 0, size 0) after the ECDSA
	// preamble is fine for this test since SkipTDXAuth bypasses PPID
	// extraction.

	buf := new(bytes.Buffer)
	buf.Write(make([]byte, 48)) // header
	buf.Write(reportBody)
	sigLen := make([]byte, 4)
	sigLen[0] = byte(len(sigData))
	buf.Write(sigLen)
	buf.Write(sigData)
	return buf.Bytes()
}

func doRegister(t *testing.T, s *Server, req *types.RegisterRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httpReq)
	return rec
}

func TestRegister_FreshInstance(t *testing.T) {
	s := testServer(t)
	instancePub, instancePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	req := buildRegisterRequest(t, instancePub, instancePriv, []byte("ppid"), nil)
	rec := doRegister(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegister_OwnerWithoutOperatorRejected(t *testing.T) {
	s := testServer(t)
	instancePub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	ownerPub, ownerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	owner := &types.IdentityInfo{
		PublicKey:         types.HexBytes(ownerPub),
		InstanceSignature: types.HexBytes(ed25519.Sign(ownerPriv, instancePub)),
		IdentitySignature: types.HexBytes(ed25519.Sign(ownerPriv, ownerPub)), // wrong signer, irrelevant: shape check fails first
	}

	req := &types.RegisterRequest{
		InstancePubkey: types.HexBytes(instancePub),
		PPID:           types.HexBytes("ppid"),
		Owner:          owner,
	}
	rec := doRegister(t, s, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_HashMismatchRejected(t *testing.T) {
	s := testServer(t)
	instancePub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	wrongHash := [64]byte{}
	quote := syntheticQuote(t, wrongHash)
	req := &types.RegisterRequest{
		InstancePubkey:   types.HexBytes(instancePub),
		PPID:             types.HexBytes("ppid"),
		AttestationQuote: types.Base64Bytes(quote),
	}
	rec := doRegister(t, s, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegister_MonotonicityRejectsOperatorReplacement(t *testing.T) {
	s := testServer(t)
	instancePub, instancePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	opPub, opPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	operator := &types.IdentityInfo{
		PublicKey:         types.HexBytes(opPub),
		InstanceSignature: types.HexBytes(ed25519.Sign(opPriv, instancePub)),
		IdentitySignature: types.HexBytes(ed25519.Sign(instancePriv, opPub)),
	}

	req1 := buildRegisterRequest(t, instancePub, instancePriv, []byte("ppid"), operator)
	rec1 := doRegister(t, s, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	otherOpPub, otherOpPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherOperator := &types.IdentityInfo{
		PublicKey:         types.HexBytes(otherOpPub),
		InstanceSignature: types.HexBytes(ed25519.Sign(otherOpPriv, instancePub)),
		IdentitySignature: types.HexBytes(ed25519.Sign(instancePriv, otherOpPub)),
	}
	req2 := buildRegisterRequest(t, instancePub, instancePriv, []byte("ppid"), otherOperator)
	rec2 := doRegister(t, s, req2)
	require.Equal(t, http.StatusForbidden, rec2.Code)
}

func TestGetInstance_NotFoundReturns400(t *testing.T) {
	s := testServer(t)
	zeroPubkeyHex := hex.EncodeToString(make([]byte, 32))
	req := httptest.NewRequest(http.MethodGet, "/instance/"+zeroPubkeyHex, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
