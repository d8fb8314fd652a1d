// Package toolexec executes tool calls on behalf of the agent loop.
//
// Execution never returns an error to the loop: every failure mode is
// folded into a structured result payload so the loop can record it and
// feed it back to the planner.
package toolexec

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ToolHandler is the function signature for local tool execution
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ToolParameter describes one argument of a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition describes a locally registered tool
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// Executor routes tool calls to locally registered handlers, falling
// back to the sandbox service for tools it does not know.
type Executor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	sandbox *SandboxClient
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// New creates a tool executor. The sandbox client is optional.
func New(sandbox *SandboxClient, logger zerolog.Logger) *Executor {
	return &Executor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		sandbox: sandbox,
		logger:  logger,
	}
}

// RegisterTool registers a local tool
func (e *Executor) RegisterTool(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema for %q: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}

	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema

	e.logger.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Tools lists the registered local tool definitions.
func (e *Executor) Tools() []ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(e.tools))
	for _, def := range e.tools {
		defs = append(defs, *def)
	}
	return defs
}

// Execute runs one tool call and always returns a result payload. Local
// tools are validated against their schema first; unknown tools go to
// the sandbox when one is configured.
func (e *Executor) Execute(ctx context.Context, toolName string, args map[string]interface{}) interface{} {
	if args == nil {
		args = map[string]interface{}{}
	}

	e.mu.RLock()
	def, ok := e.tools[toolName]
	schema := e.schemas[toolName]
	e.mu.RUnlock()

	if !ok {
		if e.sandbox != nil {
			return e.sandbox.ExecuteTool(ctx, toolName, args)
		}
		return map[string]interface{}{
			"error":   "unknown_tool",
			"details": fmt.Sprintf("no tool named %q is registered and no sandbox is configured", toolName),
		}
	}

	if err := validateArgs(schema, args); err != nil {
		e.logger.Warn().Err(err).Str("tool", toolName).Msg("Tool argument validation failed")
		return map[string]interface{}{
			"error":   "invalid_arguments",
			"details": err.Error(),
		}
	}

	result, err := def.Handler(ctx, args)
	if err != nil {
		e.logger.Warn().Err(err).Str("tool", toolName).Msg("Tool execution failed")
		return map[string]interface{}{
			"error":   "tool_error",
			"details": err.Error(),
		}
	}
	return result
}

// generateJSONSchema builds an argument schema from a tool definition
func generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateArgs validates call arguments against a tool's schema
func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, resultErr := range result.Errors() {
			errs = append(errs, resultErr.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}
	return nil
}
