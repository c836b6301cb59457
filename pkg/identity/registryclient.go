package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alexhulbert/tdx-identity/pkg/types"
)

// RegistryClient pushes this instance's identity bundle to the central
// registry over a JSON POST to /register, with an http.Client-with-timeout
// and status-check shape.
type RegistryClient struct {
	baseURL string
	client  *http.Client
}

// NewRegistryClient builds a client against baseURL (REGISTRY_URL).
func NewRegistryClient(baseURL string) *RegistryClient {
	return &RegistryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Register POSTs req to the registry's /register endpoint. A non-2xx
// response is surfaced as a Registry-domain error carrying the registry's
// own error message when present.
func (c *RegistryClient) Register(ctx context.Context, req *types.RegisterRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal register request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build register request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Registry(fmt.Sprintf("registry unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var parsed struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != "" {
			return Registry(fmt.Sprintf("registry rejected update: %s", parsed.Error))
		}
		return Registry(fmt.Sprintf("registry rejected update: status %d", resp.StatusCode))
	}
	return nil
}
