// Package client implements the scry terminal client commands.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envServerURL     = "SCRY_SERVER_URL"
	defaultServerURL = "http://localhost:8080"
)

// APIClient talks to a running scry server.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// ResolveServerURL picks the server URL from the --server flag, the
// SCRY_SERVER_URL environment variable, or the default, in that order.
func ResolveServerURL(cmd *cobra.Command) string {
	_ = godotenv.Load()

	if cmd != nil {
		if flagURL, err := cmd.Flags().GetString("server"); err == nil && flagURL != "" {
			return flagURL
		}
	}
	if env := os.Getenv(envServerURL); env != "" {
		return env
	}
	return defaultServerURL
}

// NewAPIClient creates a client for the given server base URL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIResponse is the envelope the server wraps every JSON payload in.
// Error responses carry the message in Error plus a machine-readable
// Code and a Retryable hint.
type APIResponse struct {
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// APIError is a non-2xx server response surfaced as an error.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Get performs a GET request.
func (c *APIClient) Get(path string) (*APIResponse, error) {
	return c.do(http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *APIClient) Post(path string, body any) (*APIResponse, error) {
	return c.do(http.MethodPost, path, body)
}

func (c *APIClient) do(method, path string, body any) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		// Proxies and load balancers answer with plain text bodies.
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       apiResp.Code,
			Message:    apiResp.Error,
			Retryable:  apiResp.Retryable,
		}
	}

	return &apiResp, nil
}
