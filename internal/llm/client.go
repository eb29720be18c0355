// Package llm provides model provider interfaces and implementations.
package llm

import (
	"context"

	"github.com/capitalize-ai/assistant-core/internal/tool"
)

// DeltaType is the kind of a streamed delta.
type DeltaType string

const (
	DeltaContent       DeltaType = "content"
	DeltaReasoning     DeltaType = "reasoning"
	DeltaToolCallStart DeltaType = "tool_call_start"
	DeltaToolCallArgs  DeltaType = "tool_call_args"
)

// Delta is one streamed unit of model output.
type Delta struct {
	Type DeltaType

	// Text is set for content and reasoning deltas.
	Text string

	// Tool call fields are set for tool_call_start and tool_call_args.
	ToolCallID   string
	ToolName     string
	ArgsFragment string
}

// DeltaCallback receives deltas as they arrive. Returning an error aborts
// the stream.
type DeltaCallback func(Delta) error

// ContinuationToken is an opaque value allowing a new call to resume from a
// prior call's provider-side state. Providers that keep no such state return
// an empty token and rely on the full message list instead.
type ContinuationToken string

// ToolCallRequest is one tool call requested by the model.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string
}

// Message is a chat message in provider-neutral form.
type Message struct {
	Role    string
	Content string

	// ToolCalls echoes the calls an assistant message requested.
	ToolCalls []ToolCallRequest

	// ToolCallID ties a tool-role message to the call it answers.
	ToolCallID string
}

// Request is a streaming chat request.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []tool.Definition
	Continuation ContinuationToken

	// Effort is a reasoning-effort hint ("low", "medium", "high"). Providers
	// whose API has no matching knob ignore it; the hint is still recorded
	// in the stream so clients can see what was requested.
	Effort string

	MaxTokens int
}

// Response is the terminal result of one streamed call.
type Response struct {
	Content      string
	Reasoning    string
	ToolCalls    []ToolCallRequest
	StopReason   string
	Continuation ContinuationToken
	TokensIn     int
	TokensOut    int
	LatencyMs    int64
}

// Client is the interface for model providers.
type Client interface {
	// StreamChat sends a streaming request, invoking onDelta for each delta,
	// and returns the accumulated response.
	StreamChat(ctx context.Context, req *Request, onDelta DeltaCallback) (*Response, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of model provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new model client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}
