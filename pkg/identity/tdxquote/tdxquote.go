// Package tdxquote implements attestation-quote sourcing: a real TDX
// configfs report on hardware that has it, a mock HTTP attestation
// endpoint otherwise, and a dev-mode fallback of using the instance
// public key itself as the PPID whenever configfs is absent. Every fallback
// path is logged loudly: dev-mode fallbacks must be clearly gated and
// visible in logs, never silent.
package tdxquote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/alexhulbert/tdx-identity/pkg/attestation"
)

// ConfigFSReportPath is the kernel interface for requesting a TDX quote
// on real hardware.
const ConfigFSReportPath = "/sys/kernel/config/tsm/report"

// Provider sources attestation quotes and the platform PPID from real TDX
// configfs when present. Without configfs, quotes come from a configured
// mock TDX HTTP endpoint and the PPID is the instance public key, as a
// stand-in for local development.
type Provider struct {
	logger         *zap.Logger
	instancePubkey []byte
	mockTDXURL     string
	httpClient     *http.Client
	configFSPath   string
}

// NewProvider builds a quote Provider. instancePubkey is used as the PPID
// fallback when real TDX configfs is not available, whether or not a mock
// endpoint is configured.
func NewProvider(logger *zap.Logger, instancePubkey []byte, mockTDXURL string) *Provider {
	return &Provider{
		logger:         logger,
		instancePubkey: instancePubkey,
		mockTDXURL:     mockTDXURL,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		configFSPath:   ConfigFSReportPath,
	}
}

func (p *Provider) hasRealTDX() bool {
	_, err := os.Stat(p.configFSPath)
	return err == nil
}

// PPID derives the platform PPID: on real TDX hardware it comes from an
// empty-report-data quote via attestation.PPIDFromCertificationTree;
// otherwise it falls back to the instance public key bytes.
func (p *Provider) PPID(ctx context.Context) ([]byte, error) {
	if p.hasRealTDX() {
		var empty [64]byte
		raw, err := p.realQuote(ctx, empty)
		if err != nil {
			return nil, fmt.Errorf("failed to read empty-report-data quote from configfs: %w", err)
		}
		quote, err := attestation.ParseQuote(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configfs quote: %w", err)
		}
		ppid, err := attestation.PPIDFromCertificationTree(p.logger, quote.CertificationTop)
		if err != nil {
			return nil, fmt.Errorf("failed to extract PPID from configfs quote: %w", err)
		}
		return ppid, nil
	}

	p.logger.Sugar().Warnw("no TDX configfs report interface present; falling back to instance pubkey as PPID (dev mode)")
	return p.instancePubkey, nil
}

// Quote produces a quote whose report-data is
// reportData, from real TDX configfs when present, else the mock TDX
// endpoint when MOCK_TDX_URL is set, else a locally-signed stand-in quote
// is not possible (no quoting key exists in dev mode) so the mock
// endpoint is mandatory in that case and its absence is a hard error.
func (p *Provider) Quote(ctx context.Context, reportData [64]byte) ([]byte, error) {
	if p.hasRealTDX() {
		return p.realQuote(ctx, reportData)
	}
	if p.mockTDXURL != "" {
		p.logger.Sugar().Warnw("no TDX configfs report interface present; using mock TDX endpoint", "url", p.mockTDXURL)
		return p.mockQuote(ctx, reportData)
	}
	return nil, fmt.Errorf("no TDX configfs report interface and MOCK_TDX_URL is not set")
}

// realQuote writes reportData to the configfs report interface and reads
// back the resulting quote. The configfs TSM report protocol requires
// creating a subdirectory under ConfigFSReportPath, writing inblob, and
// reading outblob; represented here as a single request/response pair
// since the directory lifecycle is an implementation detail of the
// kernel interface, not of this package's callers.
func (p *Provider) realQuote(ctx context.Context, reportData [64]byte) ([]byte, error) {
	entryDir := fmt.Sprintf("%s/tdx-identity-%d", p.configFSPath, time.Now().UnixNano())
	if err := os.Mkdir(entryDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create configfs report entry: %w", err)
	}
	defer os.Remove(entryDir)

	if err := os.WriteFile(entryDir+"/inblob", reportData[:], 0o600); err != nil {
		return nil, fmt.Errorf("failed to write configfs inblob: %w", err)
	}
	quote, err := os.ReadFile(entryDir + "/outblob")
	if err != nil {
		return nil, fmt.Errorf("failed to read configfs outblob: %w", err)
	}
	return quote, nil
}

// mockQuote requests a synthetic quote from MOCK_TDX_URL, for development
// environments without real TDX hardware. The endpoint is a plain GET
// against a hex-encoded report-data path segment; the response body bytes
// are the quote itself, with no envelope or re-encoding.
func (p *Provider) mockQuote(ctx context.Context, reportData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%x", p.mockTDXURL, reportData)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mock TDX request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("mock TDX endpoint returned status %d", resp.StatusCode)
	}

	quote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read mock TDX response: %w", err)
	}
	return quote, nil
}
