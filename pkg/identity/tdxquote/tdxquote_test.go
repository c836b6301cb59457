package tdxquote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestProvider_PPID_FallsBackToInstancePubkeyWithoutConfigFS(t *testing.T) {
	logger := zap.NewNop()
	instancePubkey := []byte("instance-pubkey-bytes")
	p := NewProvider(logger, instancePubkey, "")
	p.configFSPath = "/nonexistent/tsm/report/path"

	ppid, err := p.PPID(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(ppid) != string(instancePubkey) {
		t.Errorf("expected PPID fallback to equal instance pubkey, got %x", ppid)
	}
}

func TestProvider_Quote_UsesMockEndpoint(t *testing.T) {
	wantQuote := []byte("synthetic-quote-bytes")
	var reportData [64]byte
	copy(reportData[:], []byte("report-data"))
	wantPath := fmt.Sprintf("/attest/%x", reportData)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != wantPath {
			t.Errorf("path = %q, want %q", r.URL.Path, wantPath)
		}
		w.Write(wantQuote)
	}))
	defer srv.Close()

	logger := zap.NewNop()
	p := NewProvider(logger, []byte("instance-pubkey"), srv.URL)
	p.configFSPath = "/nonexistent/tsm/report/path"

	quote, err := p.Quote(context.Background(), reportData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(quote) != string(wantQuote) {
		t.Errorf("quote = %q, want %q", quote, wantQuote)
	}
}

func TestProvider_Quote_ErrorsWithoutConfigFSOrMockURL(t *testing.T) {
	logger := zap.NewNop()
	p := NewProvider(logger, []byte("instance-pubkey"), "")
	p.configFSPath = "/nonexistent/tsm/report/path"

	var reportData [64]byte
	if _, err := p.Quote(context.Background(), reportData); err == nil {
		t.Error("expected an error when neither configfs nor mock TDX URL are available")
	}
}
