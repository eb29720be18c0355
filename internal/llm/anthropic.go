package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is the Anthropic model client.
type AnthropicClient struct {
	client *anthropic.Client
	apiKey string
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &AnthropicClient{
		client: client,
		apiKey: apiKey,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
	}
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			out = append(out, anthropic.MessageParam{
				Role: anthropic.F(anthropic.MessageParamRoleUser),
				Content: anthropic.F([]anthropic.ContentBlockParamUnion{
					anthropic.ToolResultBlockParam{
						Type:      anthropic.F(anthropic.ToolResultBlockParamTypeToolResult),
						ToolUseID: anthropic.F(msg.ToolCallID),
						Content: anthropic.F([]anthropic.ToolResultBlockParamContentUnion{
							anthropic.TextBlockParam{
								Type: anthropic.F(anthropic.TextBlockParamTypeText),
								Text: anthropic.F(msg.Content),
							},
						}),
					},
				}),
			})

		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				})
			}
			for _, call := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ToolUseBlockParam{
					Type:  anthropic.F(anthropic.ToolUseBlockParamTypeToolUse),
					ID:    anthropic.F(call.ID),
					Name:  anthropic.F(call.Name),
					Input: anthropic.F(input),
				})
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.F(anthropic.MessageParamRoleAssistant),
				Content: anthropic.F(blocks),
			})

		default:
			out = append(out, anthropic.MessageParam{
				Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
				Content: anthropic.F([]anthropic.ContentBlockParamUnion{
					anthropic.TextBlockParam{
						Type: anthropic.F(anthropic.TextBlockParamTypeText),
						Text: anthropic.F(msg.Content),
					},
				}),
			})
		}
	}
	return out
}

// StreamChat sends a streaming tool-calling request.
func (c *AnthropicClient) StreamChat(ctx context.Context, req *Request, onDelta DeltaCallback) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	// req.Effort has no Messages API equivalent and is not sent.
	params := anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(toAnthropicMessages(req.Messages)),
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionUnionParam, len(req.Tools))
		for i, def := range req.Tools {
			var schema any
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				schema = map[string]any{"type": "object"}
			}
			tools[i] = anthropic.ToolParam{
				Name:        anthropic.F(def.Name),
				Description: anthropic.F(def.Description),
				InputSchema: anthropic.F(schema),
			}
		}
		params.Tools = anthropic.F(tools)
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	var content string
	var toolCalls []ToolCallRequest
	var stopReason string
	var tokensIn, tokensOut int

	// index of the content block currently streaming tool arguments, -1 when
	// the active block is text.
	activeTool := -1

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case anthropic.MessageStreamEventTypeMessageStart:
			tokensIn = int(event.Message.Usage.InputTokens)

		case anthropic.MessageStreamEventTypeContentBlockStart:
			block, _ := event.ContentBlock.(anthropic.ContentBlockStartEventContentBlock)
			if block.Type == "tool_use" {
				activeTool = len(toolCalls)
				toolCalls = append(toolCalls, ToolCallRequest{
					ID:   block.ID,
					Name: block.Name,
				})
				if err := onDelta(Delta{
					Type:       DeltaToolCallStart,
					ToolCallID: block.ID,
					ToolName:   block.Name,
				}); err != nil {
					return nil, err
				}
			} else {
				activeTool = -1
			}

		case anthropic.MessageStreamEventTypeContentBlockDelta:
			delta, _ := event.Delta.(anthropic.ContentBlockDeltaEventDelta)
			switch delta.Type {
			case "text_delta":
				content += delta.Text
				if err := onDelta(Delta{Type: DeltaContent, Text: delta.Text}); err != nil {
					return nil, err
				}
			case "input_json_delta":
				if activeTool >= 0 {
					toolCalls[activeTool].Arguments += delta.PartialJSON
					if err := onDelta(Delta{
						Type:         DeltaToolCallArgs,
						ToolCallID:   toolCalls[activeTool].ID,
						ArgsFragment: delta.PartialJSON,
					}); err != nil {
						return nil, err
					}
				}
			}

		case anthropic.MessageStreamEventTypeMessageDelta:
			delta, _ := event.Delta.(anthropic.MessageDeltaEventDelta)
			stopReason = string(delta.StopReason)
			tokensOut = int(event.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	return &Response{
		Content:    content,
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
