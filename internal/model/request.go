package model

// RunExchangeRequest triggers one generation episode for a session.
type RunExchangeRequest struct {
	Model string `json:"model,omitempty"`

	// ContextKind/ContextID override the session's default scope.
	ContextKind ContextKind `json:"context_kind,omitempty"`
	ContextID   string      `json:"context_id,omitempty"`

	// SecondaryContextIDs widen read access without changing the mutation target.
	SecondaryContextIDs []string `json:"secondary_context_ids,omitempty"`

	// ToolFilter restricts the scoped toolset to the named tools, if non-empty.
	ToolFilter []string `json:"tool_filter,omitempty"`

	// MaxRounds lowers the round-loop cap when positive; it never raises
	// the configured server limit.
	MaxRounds int `json:"max_rounds,omitempty"`

	Effort string `json:"effort,omitempty"`
}

// RunExchangeResponse is returned once the episode has been accepted.
type RunExchangeResponse struct {
	ExchangeID string `json:"exchange_id"`
	StreamID   string `json:"stream_id"`
}

// ReadEventsResponse is the replay-read response for one stream.
type ReadEventsResponse struct {
	Events       []StreamEvent `json:"events"`
	LastSequence uint64        `json:"last_sequence"`
	HasMore      bool          `json:"has_more"`
}

// ActiveStreamsResponse lists recently active stream ids for dashboards.
type ActiveStreamsResponse struct {
	StreamIDs []string `json:"stream_ids"`
}
