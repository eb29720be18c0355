package model

import (
	"time"
)

// Role represents the role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ConversationTurn is one turn in a session. Turns before the active one are
// read-only context for a generation episode; the active assistant turn is the
// sole mutation target, populated from the accumulated stream content when the
// episode finalizes.
type ConversationTurn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Ordinal   int       `json:"ordinal"`
	Role      Role      `json:"role"`
	Content   *string   `json:"content,omitempty"`
	Reasoning *string   `json:"reasoning,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Exchange is a placeholder created when an episode is triggered. The exchange
// id doubles as the stream id for all events the episode produces.
type Exchange struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id"`
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	CreatedAt   time.Time `json:"created_at"`
}
