package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SandboxClient calls the sandboxed tool-execution service over HTTP.
type SandboxClient struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewSandboxClient creates a sandbox client.
func NewSandboxClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *SandboxClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SandboxClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ExecuteTool posts the call to the sandbox's execute endpoint, retrying
// the legacy route on 404. It always returns a payload: failures become
// structured error bodies, never errors.
func (c *SandboxClient) ExecuteTool(ctx context.Context, toolName string, args map[string]interface{}) interface{} {
	payload := map[string]interface{}{
		"tool_name": toolName,
		"args":      args,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return map[string]interface{}{
			"error":   "sandbox_connection_error",
			"details": err.Error(),
			"url":     c.baseURL,
		}
	}

	primaryURL := c.baseURL + "/execute-tool"
	resp, err := c.post(ctx, primaryURL, body)
	if err == nil && resp.StatusCode == http.StatusNotFound {
		// Older sandbox builds expose the versioned route only.
		resp.Body.Close()
		resp, err = c.post(ctx, c.baseURL+"/api/v1/execute_tool", body)
	}
	if err != nil {
		return map[string]interface{}{
			"error":   "sandbox_connection_error",
			"details": err.Error(),
			"url":     primaryURL,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return map[string]interface{}{
			"error":   "sandbox_connection_error",
			"details": strings.TrimSpace(string(detail)),
			"url":     primaryURL,
		}
	}

	var result interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return map[string]interface{}{
			"error":   "sandbox_invalid_json",
			"details": err.Error(),
			"url":     primaryURL,
		}
	}
	return result
}

func (c *SandboxClient) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}
