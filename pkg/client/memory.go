// Package client provides an HTTP client for a remote memory service.
// It lets the agent loop run against a memory deployment on another
// host instead of the embedded stores.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/minder/pkg/playbook"
)

const defaultTimeout = 10 * time.Second

// minPlaybookSequence is the shortest sequence worth persisting. A
// run without tool use produces two entries (prompt plus answer) and
// carries nothing reusable.
const minPlaybookSequence = 3

// Memory talks to a remote memory service over HTTP. History reads
// and writes are best effort so a memory outage never fails a run.
type Memory struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Config holds remote memory client settings.
type Config struct {
	// BaseURL is the memory service root, e.g. http://localhost:8003.
	BaseURL string
	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewMemory creates a remote memory client.
func NewMemory(cfg Config) *Memory {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Memory{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// GetSessionHistory fetches the stored conversation for a session.
// Any failure degrades to an empty history.
func (m *Memory) GetSessionHistory(ctx context.Context, sessionID string) []map[string]interface{} {
	reqURL := m.baseURL + "/memory/latest?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Memory history fetch failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		m.logger.Warn().
			Int("status", resp.StatusCode).
			Str("session_id", sessionID).
			Str("body", string(body)).
			Msg("Memory history fetch rejected")
		return nil
	}

	var payload struct {
		Messages []map[string]interface{} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Memory history response not decodable")
		return nil
	}
	return payload.Messages
}

// StoreSessionHistory pushes a session's full history to the memory
// service. Returns false on any failure; callers treat persistence as
// best effort.
func (m *Memory) StoreSessionHistory(ctx context.Context, sessionID string, history []map[string]interface{}, prompt string, llmResponse map[string]interface{}) bool {
	body := map[string]interface{}{
		"session_id":   sessionID,
		"history":      history,
		"prompt":       prompt,
		"llm_response": llmResponse,
		"stored_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.post(ctx, "/memory/store", body, nil); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Memory history store failed")
		return false
	}
	return true
}

// StorePlaybook persists a successful multi-step tool sequence.
// Sequences shorter than three entries are skipped silently.
func (m *Memory) StorePlaybook(ctx context.Context, sessionID, prompt string, sequence []playbook.Entry) error {
	if len(sequence) < minPlaybookSequence {
		return nil
	}

	historySequence := make([]map[string]string, 0, len(sequence))
	for _, entry := range sequence {
		historySequence = append(historySequence, map[string]string{
			"role":    entry.Role,
			"content": entry.Content,
		})
	}

	body := map[string]interface{}{
		"session_id":       sessionID,
		"prompt":           prompt,
		"history_sequence": historySequence,
	}

	var result struct {
		Status     string `json:"status"`
		PlaybookID string `json:"playbook_id"`
	}
	if err := m.post(ctx, "/memory/playbook", body, &result); err != nil {
		return err
	}

	m.logger.Debug().
		Str("session_id", sessionID).
		Str("playbook_id", result.PlaybookID).
		Msg("Playbook stored remotely")
	return nil
}

// Health checks the remote service's /health endpoint.
func (m *Memory) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("memory service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("memory service unhealthy: %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (m *Memory) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", path, err)
		}
	}
	return nil
}
