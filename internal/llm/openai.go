package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient is the OpenAI model client.
type OpenAIClient struct {
	client *openai.Client
	apiKey string
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		apiKey: apiKey,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	return []string{
		openai.GPT4o,
		openai.GPT4oMini,
		openai.GPT4Turbo,
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == "tool" {
			m.Role = openai.ChatMessageRoleTool
			m.ToolCallID = msg.ToolCallID
		}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out
}

// StreamChat sends a streaming tool-calling request.
func (c *OpenAIClient) StreamChat(ctx context.Context, req *Request, onDelta DeltaCallback) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = openai.GPT4o
	}

	// req.Effort has no chat-completions equivalent and is not sent.
	request := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  toOpenAIMessages(req.Messages),
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}

	for _, def := range req.Tools {
		request.Tools = append(request.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(def.InputSchema),
			},
		})
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var content string
	var stopReason string
	var toolCalls []ToolCallRequest
	// index in toolCalls by the provider's call index
	byIndex := make(map[int]int)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}

		if choice.Delta.Content != "" {
			content += choice.Delta.Content
			if err := onDelta(Delta{Type: DeltaContent, Text: choice.Delta.Content}); err != nil {
				return nil, err
			}
		}

		for _, call := range choice.Delta.ToolCalls {
			idx := 0
			if call.Index != nil {
				idx = *call.Index
			}
			pos, ok := byIndex[idx]
			if !ok {
				pos = len(toolCalls)
				byIndex[idx] = pos
				toolCalls = append(toolCalls, ToolCallRequest{
					ID:   call.ID,
					Name: call.Function.Name,
				})
				if err := onDelta(Delta{
					Type:       DeltaToolCallStart,
					ToolCallID: call.ID,
					ToolName:   call.Function.Name,
				}); err != nil {
					return nil, err
				}
			}
			if call.Function.Arguments != "" {
				toolCalls[pos].Arguments += call.Function.Arguments
				if err := onDelta(Delta{
					Type:         DeltaToolCallArgs,
					ToolCallID:   toolCalls[pos].ID,
					ArgsFragment: call.Function.Arguments,
				}); err != nil {
					return nil, err
				}
			}
		}
	}

	return &Response{
		Content:    content,
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
