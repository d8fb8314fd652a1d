// Package agent implements the turn-bounded orchestration loop: pull
// session history, ask the plan source for a plan, execute any requested
// tool, fold the result back into the prompt, and repeat.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/minder/internal/observability"
	"github.com/harun/minder/internal/tracing"
	"github.com/harun/minder/pkg/toolcall"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// SessionUnknown tags runs whose caller supplied no session or request id.
const SessionUnknown = "session-unknown"

// DefaultMaxTurns bounds a run when no limit is configured.
const DefaultMaxTurns = 3

// Loop is the orchestration state machine. It owns no persistent state:
// one Loop value can be reused across runs, and each run holds only its
// own transient transcript.
type Loop struct {
	planSource   PlanSource
	toolExecutor ToolExecutor
	history      HistoryProvider
	maxTurns     int
	logger       zerolog.Logger
	tracer       tracing.Tracer
}

// Config holds loop configuration. PlanSource is required; ToolExecutor
// and History are optional collaborators.
type Config struct {
	PlanSource   PlanSource
	ToolExecutor ToolExecutor
	History      HistoryProvider
	MaxTurns     int
	Logger       zerolog.Logger
	Tracer       tracing.Tracer
}

// NewLoop creates an agent loop.
func NewLoop(cfg Config) (*Loop, error) {
	observability.EnsureRegistered()

	if cfg.PlanSource == nil {
		return nil, errors.New("plan source is required")
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracing.NewNoop()
	}

	return &Loop{
		planSource:   cfg.PlanSource,
		toolExecutor: cfg.ToolExecutor,
		history:      cfg.History,
		maxTurns:     maxTurns,
		logger:       cfg.Logger,
		tracer:       tracer,
	}, nil
}

// ResolveSessionID picks the id used for history retrieval and run
// tagging: the caller's session id, else its request id, else the
// no-session sentinel. It is never validated for uniqueness.
func ResolveSessionID(rc RunContext) string {
	if rc.SessionID != "" {
		return rc.SessionID
	}
	if rc.RequestID != "" {
		return rc.RequestID
	}
	return SessionUnknown
}

// Run executes the loop for one prompt. It always returns a result:
// transport failures, parse failures, and missing-executor conditions
// are folded into the transcript rather than raised.
func (l *Loop) Run(ctx context.Context, prompt string, rc RunContext) RunResult {
	sessionID := ResolveSessionID(rc)

	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := l.tracer.StartSpan(ctx, "agent.run",
		attribute.String("session_id", sessionID),
		attribute.Int("max_turns", l.maxTurns),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, l.logger).With().Str("session_id", sessionID).Logger()
	start := time.Now()

	var (
		transcript    []Turn
		planResponse  map[string]interface{}
		turnsExecuted int
		completed     bool
	)
	currentPrompt := prompt

	for turn := 0; turn < l.maxTurns; turn++ {
		span.SetAttributes(attribute.Int("turn", turn))

		// The history preamble is rendered once; later turns grow the
		// prompt only with tool responses from this run.
		if turn == 0 {
			currentPrompt = l.renderHistoryPreamble(ctx, sessionID) + prompt
		}

		planResponse = l.fetchPlan(ctx, currentPrompt)
		turnsExecuted++

		transcript = append(transcript, Turn{
			Index:        turn,
			Type:         TurnPlan,
			Prompt:       currentPrompt,
			PlanResponse: planResponse,
		})

		plan, _ := planResponse["plan"].(string)
		if plan == "" {
			plan = "{}"
		}

		call := toolcall.Parse(plan)
		if call == nil {
			// Final answer reached. Malformed plans land here too and
			// are indistinguishable from genuine completions.
			completed = true
			logger.Debug().Int("turn", turn).Msg("No tool call in plan, loop complete")
			break
		}

		if l.toolExecutor == nil {
			transcript = append(transcript, Turn{
				Index:    turn,
				Type:     TurnToolResult,
				ToolName: call.Name,
				Args:     call.Args,
				ToolResult: map[string]interface{}{
					"error":   "no_tool_executor",
					"details": "AgentLoop was not initialized with a tool executor.",
				},
			})
			logger.Warn().Str("tool", call.Name).Msg("Tool call requested but no executor configured")
			break
		}

		result := l.executeTool(ctx, call)
		transcript = append(transcript, Turn{
			Index:      turn,
			Type:       TurnToolResult,
			ToolName:   call.Name,
			Args:       call.Args,
			ToolResult: result,
		})

		currentPrompt += renderToolResponse(call.Name, result)
	}

	observability.RecordAgentRun(time.Since(start), turnsExecuted, completed)
	logger.Info().
		Int("turns_executed", turnsExecuted).
		Bool("completed", completed).
		Msg("Agent loop finished")

	var finalPlan *string
	if v, ok := planResponse["plan"].(string); ok {
		finalPlan = &v
	}

	return RunResult{
		TurnsExecuted:     turnsExecuted,
		MaxTurns:          l.maxTurns,
		FinalPlan:         finalPlan,
		FinalPlanResponse: planResponse,
		Transcript:        transcript,
		SessionID:         sessionID,
	}
}

// renderHistoryPreamble fetches prior session messages and renders the
// history block prepended to the turn-0 prompt.
func (l *Loop) renderHistoryPreamble(ctx context.Context, sessionID string) string {
	var messages []map[string]interface{}
	if l.history != nil {
		ctxStep, stepSpan := l.tracer.StartSpan(ctx, "agent.session_history",
			attribute.String("session_id", sessionID),
		)
		messages = l.history.GetSessionHistory(ctxStep, sessionID)
		stepSpan.End()
	}
	if messages == nil {
		messages = []map[string]interface{}{}
	}

	serialized, err := json.Marshal(messages)
	if err != nil {
		serialized = []byte("[]")
	}

	return fmt.Sprintf("<history session_id='%s'>\n%s\n</history>\n\n", sessionID, serialized)
}

// fetchPlan calls the plan source, converting transport failures into a
// structured error payload treated as this turn's plan result.
func (l *Loop) fetchPlan(ctx context.Context, prompt string) map[string]interface{} {
	ctxStep, stepSpan := l.tracer.StartSpan(ctx, "agent.get_plan")
	defer stepSpan.End()

	response, err := l.planSource.GetPlan(ctxStep, prompt)
	if err == nil {
		observability.RecordPlanCall(true)
		if response == nil {
			response = map[string]interface{}{}
		}
		return response
	}

	observability.RecordPlanCall(false)
	stepSpan.RecordError(err)

	var terr *TransportError
	if errors.As(err, &terr) {
		payload := map[string]interface{}{
			"error":   terr.Kind,
			"details": terr.Details,
		}
		if terr.Code != "" {
			payload["code"] = terr.Code
		}
		return payload
	}

	return map[string]interface{}{
		"error":   "transport_error",
		"details": err.Error(),
	}
}

func (l *Loop) executeTool(ctx context.Context, call *toolcall.ToolCall) interface{} {
	ctxStep, stepSpan := l.tracer.StartSpan(ctx, "agent.execute_tool",
		attribute.String("tool.name", call.Name),
	)
	defer stepSpan.End()

	start := time.Now()
	result := l.toolExecutor.Execute(ctxStep, call.Name, call.Args)
	observability.RecordToolExecution(call.Name, time.Since(start), !isErrorPayload(result))
	return result
}

// isErrorPayload reports whether a tool result is a structured error
// body. Used only for metrics; the loop itself never re-interprets
// results.
func isErrorPayload(result interface{}) bool {
	m, ok := result.(map[string]interface{})
	if !ok {
		return false
	}
	_, has := m["error"]
	return has
}

func renderToolResponse(toolName string, result interface{}) string {
	serialized, err := json.Marshal(result)
	if err != nil {
		serialized = []byte(fmt.Sprintf("%q", fmt.Sprint(result)))
	}
	return fmt.Sprintf("\n\n<tool_response tool='%s'>\n%s\n</tool_response>", toolName, serialized)
}
