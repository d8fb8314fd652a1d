package plansource

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/minder/pkg/agent"
)

// systemPrompt steers the model toward either a JSON tool call or a
// plain-text final answer, matching what the tool-call parser accepts.
const systemPrompt = `You are a planning assistant. When the task needs a tool, ` +
	`respond with exactly one JSON object of the form ` +
	`{"tool": {"name": "<tool>", "args": {...}}} and nothing else. ` +
	`When no tool is needed, respond with the final answer as plain text.`

// Anthropic is a plan source backed directly by the Anthropic API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic plan source.
func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// GetPlan asks the model for a plan and returns it in the gateway's
// payload shape.
func (a *Anthropic) GetPlan(ctx context.Context, prompt string) (map[string]interface{}, error) {
	response, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, &agent.TransportError{Kind: "anthropic_error", Details: err.Error()}
	}

	plan := ""
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			plan += b.Text
		}
	}

	return map[string]interface{}{
		"plan":  plan,
		"model": string(response.Model),
	}, nil
}
