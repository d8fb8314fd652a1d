package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/harun/minder/pkg/agent"
	"github.com/harun/minder/pkg/events"
	"github.com/harun/minder/pkg/playbook"
	"github.com/harun/minder/pkg/session"
)

const healthProbeTimeout = 2 * time.Second

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// handleHealth serves a deep health probe covering both stores.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	if err := s.knowledge.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "vector store unhealthy: "+err.Error())
		return
	}
	if err := s.sessions.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "session store unhealthy: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"service": serviceName,
		"status":  "ok",
		"version": s.options.Version,
	})
}

func (s *Server) handleMemoryLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id query parameter is required")
		return
	}

	messages, err := s.sessions.GetHistory(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session history")
		return
	}

	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]string{"role": m.Role, "content": m.Content})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   out,
	})
}

type storeHistoryPayload struct {
	SessionID   string                 `json:"session_id"`
	History     []session.Message      `json:"history"`
	Prompt      string                 `json:"prompt"`
	LLMResponse map[string]interface{} `json:"llm_response"`
	StoredAt    string                 `json:"stored_at,omitempty"`
}

func (s *Server) handleMemoryStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload storeHistoryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if !s.sessions.AppendAndStore(r.Context(), payload.SessionID, payload.History) {
		writeError(w, http.StatusInternalServerError, "failed to persist session history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"session_id": payload.SessionID,
		"turns":      len(payload.History),
	})
}

type storePlaybookPayload struct {
	SessionID string           `json:"session_id"`
	Prompt    string           `json:"prompt"`
	Sequence  []playbook.Entry `json:"history_sequence"`
}

func (s *Server) handleMemoryPlaybook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload storePlaybookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" || payload.Prompt == "" {
		writeError(w, http.StatusBadRequest, "session_id and prompt are required")
		return
	}

	playbookID, err := s.playbooks.StorePlaybook(r.Context(), payload.SessionID, payload.Prompt, payload.Sequence)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store playbook: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"playbook_id": playbookID,
	})
}

type ragQueryPayload struct {
	Query          string   `json:"query"`
	TopK           int      `json:"top_k"`
	KnowledgeBases []string `json:"knowledge_bases"`
}

func (s *Server) handleRAGQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload ragQueryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	matches, err := s.retrieval.Query(r.Context(), payload.Query, payload.KnowledgeBases, payload.TopK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retrieval failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

type planPayload struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
}

// handlePlan runs one full agent turn and persists its outcome.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload planPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	requestID := RequestIDFromContext(r.Context())
	rc := agent.RunContext{SessionID: payload.SessionID, RequestID: requestID}
	sessionID := agent.ResolveSessionID(rc)

	s.hub.PublishStatus(requestID, sessionID, events.StatusStarted)

	result := s.loop.Run(r.Context(), payload.Prompt, rc)

	s.persistRun(r.Context(), payload.Prompt, result)

	s.hub.PublishStatus(requestID, sessionID, events.StatusCompleted)
	if runCompleted(result) {
		s.hub.PublishResult(requestID, sessionID, result.FinalPlanResponse)
	}

	writeJSON(w, http.StatusOK, result)
}

// persistRun writes the run's transcript into the session store and,
// when the run completed after tool use, stores a playbook. Both
// writes are best effort.
func (s *Server) persistRun(ctx context.Context, prompt string, result agent.RunResult) {
	delta, sequence, hadToolStep := flattenTranscript(prompt, result)

	history, err := s.sessions.GetHistory(ctx, result.SessionID)
	if err != nil {
		history = nil
	}
	history = append(history, delta...)
	if !s.sessions.AppendAndStore(ctx, result.SessionID, history) {
		s.logger.Warn().Str("session_id", result.SessionID).Msg("Failed to persist run transcript")
	}

	if runCompleted(result) && hadToolStep {
		if _, err := s.playbooks.StorePlaybook(ctx, result.SessionID, prompt, sequence); err != nil {
			s.logger.Warn().Err(err).Str("session_id", result.SessionID).Msg("Failed to store playbook")
		}
	}
}

// runCompleted reports whether the loop ended on a plan turn, meaning
// the plan source produced a final answer rather than running out of
// turns or hitting a missing executor.
func runCompleted(result agent.RunResult) bool {
	if len(result.Transcript) == 0 {
		return false
	}
	return result.Transcript[len(result.Transcript)-1].Type == agent.TurnPlan
}

// flattenTranscript converts a run's transcript into session messages
// and a playbook sequence, both starting from the user prompt.
func flattenTranscript(prompt string, result agent.RunResult) ([]session.Message, []playbook.Entry, bool) {
	delta := []session.Message{{Role: "user", Content: prompt}}
	sequence := []playbook.Entry{{Role: "user", Content: prompt}}
	hadToolStep := false

	for _, turn := range result.Transcript {
		switch turn.Type {
		case agent.TurnPlan:
			content := planContent(turn.PlanResponse)
			delta = append(delta, session.Message{Role: "assistant", Content: content})
			sequence = append(sequence, playbook.Entry{Role: "assistant", Content: content})
		case agent.TurnToolResult:
			content := marshalCompact(turn.ToolResult)
			delta = append(delta, session.Message{Role: "tool_result", Content: content})
			sequence = append(sequence, playbook.Entry{Role: "tool_result", Content: content})
			hadToolStep = true
		}
	}

	return delta, sequence, hadToolStep
}

func planContent(response map[string]interface{}) string {
	if plan, ok := response["plan"].(string); ok {
		return plan
	}
	return marshalCompact(response)
}

func marshalCompact(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
