// Package model defines data structures for the assistant-generation core.
package model

import (
	"encoding/json"
	"time"
)

// EventType represents the semantic kind of a stream event.
type EventType string

const (
	EventTypeStatus         EventType = "status"
	EventTypeReasoningDelta EventType = "reasoning_delta"
	EventTypeContentDelta   EventType = "content_delta"
	EventTypeToolCallStart  EventType = "tool_call_start"
	EventTypeToolCallDelta  EventType = "tool_call_delta"
	EventTypeToolCallResult EventType = "tool_call_result"
	EventTypeError          EventType = "error"
	EventTypeDone           EventType = "done"
)

// Terminal reports whether no further events may follow this one on its stream.
func (t EventType) Terminal() bool {
	return t == EventTypeDone
}

// StreamEvent is one unit of generation progress. Events are immutable once
// written; sequence numbers are dense per stream, starting at 1.
type StreamEvent struct {
	StreamID          string          `json:"stream_id"`
	Sequence          uint64          `json:"sequence"`
	Type              EventType       `json:"event_type"`
	Data              json.RawMessage `json:"data,omitempty"`
	RelatedExchangeID string          `json:"related_exchange_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ToolCallStatus is the lifecycle status of a tool call result event.
type ToolCallStatus string

const (
	ToolCallStatusExecuting ToolCallStatus = "executing"
	ToolCallStatusCompleted ToolCallStatus = "completed"
	ToolCallStatusError     ToolCallStatus = "error"
)

// StatusData is the payload of a status event.
type StatusData struct {
	Phase  string `json:"phase"`
	Detail string `json:"detail,omitempty"`
}

// DeltaData is the payload of a content_delta or reasoning_delta event.
type DeltaData struct {
	Text string `json:"text"`
}

// ToolCallStartData is the payload of a tool_call_start event.
type ToolCallStartData struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
}

// ToolCallDeltaData carries a fragment of a tool call's streamed arguments.
type ToolCallDeltaData struct {
	ToolCallID string `json:"tool_call_id"`
	Fragment   string `json:"fragment"`
}

// ToolCallResultData is the payload of a tool_call_result event.
type ToolCallResultData struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Status     ToolCallStatus  `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DoneData is the payload of the terminal done event.
type DoneData struct {
	Rounds    int   `json:"rounds"`
	TokensIn  int   `json:"tokens_in,omitempty"`
	TokensOut int   `json:"tokens_out,omitempty"`
	LatencyMs int64 `json:"latency_ms,omitempty"`
}

// Notification is the minimal wake-up signal fanned out on each append. The
// event body is never carried here; subscribers fetch it from the event log.
type Notification struct {
	StreamID string    `json:"stream_id"`
	Sequence uint64    `json:"sequence"`
	Type     EventType `json:"event_type"`
}
