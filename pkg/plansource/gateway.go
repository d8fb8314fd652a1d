// Package plansource provides plan-source collaborators for the agent
// loop: an HTTP model-gateway client and a direct Anthropic client.
package plansource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harun/minder/pkg/agent"
	"github.com/rs/zerolog"
)

// Gateway asks a model-gateway HTTP service for plans.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewGateway creates a gateway plan source.
func NewGateway(baseURL string, timeout time.Duration, logger zerolog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// GetPlan posts the prompt to the gateway's plan endpoint. Transport
// failures come back as *agent.TransportError so the loop can embed the
// kind and code into the transcript.
func (g *Gateway) GetPlan(ctx context.Context, prompt string) (map[string]interface{}, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, &agent.TransportError{Kind: "gateway_error", Details: err.Error()}
	}

	url := g.baseURL + "/plan"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &agent.TransportError{Kind: "gateway_error", Details: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &agent.TransportError{Kind: "gateway_connection_error", Details: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &agent.TransportError{
			Kind:    "gateway_error",
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Details: strings.TrimSpace(string(detail)),
		}
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &agent.TransportError{Kind: "gateway_invalid_json", Details: err.Error()}
	}
	return payload, nil
}
