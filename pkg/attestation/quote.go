package attestation

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"time"
)

// TDX quote v4 header layout (ECDSA quote format, DCAP): fixed 48-byte
// header, then a TD_REPORT body whose trailing 64 bytes are report_data,
// then a 4-byte signature-data length and the signature data itself (whose
// tail is the certification-data TLV walked by PPIDFromCertificationTree).
const (
	quoteHeaderLen    = 48
	tdReportBodyLen   = 584
	reportDataLen     = 64
	sigDataLenFieldSz = 4
)

// Quote is a parsed TDX ECDSA quote: enough structure to check the
// report-data commitment and reach the certification-data tree.
type Quote struct {
	ReportData       [64]byte
	CertificationTop []byte
}

// ParseQuote validates the fixed-size prefix of a TDX quote and slices out
// report_data and the certification-data region.
func ParseQuote(raw []byte) (*Quote, error) {
	minLen := quoteHeaderLen + tdReportBodyLen + sigDataLenFieldSz
	if len(raw) < minLen {
		return nil, fmt.Errorf("quote too short: %d bytes, need at least %d", len(raw), minLen)
	}

	reportBody := raw[quoteHeaderLen : quoteHeaderLen+tdReportBodyLen]
	q := &Quote{}
	copy(q.ReportData[:], reportBody[len(reportBody)-reportDataLen:])

	sigLenOffset := quoteHeaderLen + tdReportBodyLen
	sigLen := binary.LittleEndian.Uint32(raw[sigLenOffset : sigLenOffset+sigDataLenFieldSz])
	sigStart := sigLenOffset + sigDataLenFieldSz
	if uint32(len(raw)-sigStart) < sigLen {
		return nil, fmt.Errorf("quote signature_data_len %d exceeds remaining %d bytes", sigLen, len(raw)-sigStart)
	}
	sigData := raw[sigStart : sigStart+int(sigLen)]

	// ecdsa_attestation_signature(64) || ecdsa_attestation_key(64) precede
	// the qe certification-data TLV.
	const preambleLen = 128
	if len(sigData) < preambleLen {
		return nil, fmt.Errorf("quote signature_data too short for ecdsa preamble")
	}
	q.CertificationTop = sigData[preambleLen:]

	return q, nil
}

// ReportInputDataMatches checks the quote's report-data against an
// expected attestation hash, byte-for-byte.
func (q *Quote) ReportInputDataMatches(expected [64]byte) bool {
	return q.ReportData == expected
}

// Collateral is the Intel DCAP material (certs, CRLs, TCB info) needed to
// verify a quote's signature chain back to Intel's root of trust.
type Collateral struct {
	PCKCRL       []byte
	RootCACRL    []byte
	TCBInfo      []byte
	QEIdentity   []byte
	CertChain    []byte
	FetchedAt    time.Time
}

// CollateralFetcher retrieves Collateral from an Intel PCCS (or PCCS-
// compatible) endpoint for a given quote. There is no DCAP verification
// library in the example corpus to ground a full implementation on (see
// DESIGN.md); this interface is the external collaborator boundary,
// backed by a plain net/http client against PCCS_URL.
type CollateralFetcher interface {
	FetchCollateral(ctx context.Context, quote *Quote) (*Collateral, error)
}

// QuoteVerifier checks a quote's signature chain against fetched
// Collateral at a given point in time.
type QuoteVerifier interface {
	Verify(ctx context.Context, quote *Quote, collateral *Collateral, at time.Time) error
}

// HTTPCollateralFetcher fetches collateral from PCCS_URL over plain HTTPS.
type HTTPCollateralFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPCollateralFetcher builds a fetcher with a 10-second budget for
// the registry's collateral fetch.
func NewHTTPCollateralFetcher(baseURL string) *HTTPCollateralFetcher {
	return &HTTPCollateralFetcher{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchCollateral issues a GET against BaseURL and fails unless the
// response status is 200. The response body is not read or parsed, and
// the quote argument is not used: the returned Collateral carries only
// FetchedAt, with its CRL, TCB-info, QE-identity and cert-chain fields
// left empty.
func (f *HTTPCollateralFetcher) FetchCollateral(ctx context.Context, quote *Quote) (*Collateral, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build collateral request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collateral: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collateral fetch returned status %d", resp.StatusCode)
	}
	return &Collateral{FetchedAt: time.Now()}, nil
}
