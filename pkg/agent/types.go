package agent

import (
	"context"
	"fmt"
)

// TurnType tags transcript entries.
type TurnType string

const (
	// TurnPlan records one plan-source call and its response.
	TurnPlan TurnType = "llm_plan"
	// TurnToolResult records one tool execution and its result.
	TurnToolResult TurnType = "tool_result"
)

// Turn is one immutable transcript entry. Plan turns carry the prompt
// snapshot and plan response; tool-result turns carry the tool name,
// arguments, and result.
type Turn struct {
	Index        int                    `json:"turn"`
	Type         TurnType               `json:"type"`
	Prompt       string                 `json:"prompt,omitempty"`
	PlanResponse map[string]interface{} `json:"llm_response,omitempty"`
	ToolName     string                 `json:"tool_name,omitempty"`
	Args         map[string]interface{} `json:"args,omitempty"`
	ToolResult   interface{}            `json:"tool_result,omitempty"`
}

// RunResult is what a loop run hands back to the caller. The run always
// produces a result; failures along the way are folded into the
// transcript, never raised.
type RunResult struct {
	TurnsExecuted     int                    `json:"turns_executed"`
	MaxTurns          int                    `json:"max_turns"`
	FinalPlan         *string                `json:"final_plan,omitempty"`
	FinalPlanResponse map[string]interface{} `json:"llm_response"`
	Transcript        []Turn                 `json:"history"`
	SessionID         string                 `json:"session_id"`
}

// RunContext carries the caller-supplied identifiers for one run.
type RunContext struct {
	SessionID string
	RequestID string
}

// PlanSource produces a plan payload for a prompt. A transport failure
// is returned as an error, preferably a *TransportError so the loop can
// surface its kind and code in the transcript.
type PlanSource interface {
	GetPlan(ctx context.Context, prompt string) (map[string]interface{}, error)
}

// ToolExecutor runs one tool call. Implementations fold their own
// failures into structured result payloads instead of returning errors;
// the loop records whatever comes back without re-interpreting it.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, args map[string]interface{}) interface{}
}

// HistoryProvider supplies prior session messages for the history
// preamble. Lookups are best-effort; a provider that cannot answer
// returns an empty list.
type HistoryProvider interface {
	GetSessionHistory(ctx context.Context, sessionID string) []map[string]interface{}
}

// TransportError describes a failed collaborator call in the structured
// form the loop embeds into the transcript.
type TransportError struct {
	Kind    string
	Code    string
	Details string
}

func (e *TransportError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Details)
}
