package model

import (
	"time"
)

// ContextKind identifies the kind of entity a generation episode is scoped to.
type ContextKind string

const (
	ContextOrganization ContextKind = "organization"
	ContextFolder       ContextKind = "folder"
	ContextUseCase      ContextKind = "use_case"
)

// Organization is a top-level business entity tool calls may read or update.
type Organization struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Website     string    `json:"website,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Folder groups use cases under one organization.
type Folder struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UseCase is the primary working document of a folder.
type UseCase struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	FolderID    string    `json:"folder_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Body        string    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document is a stored reference document tools may read.
type Document struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// Workspace carries the membership and read-only flag the authorization layer
// consults.
type Workspace struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	ReadOnly  bool      `json:"read_only"`
	MemberIDs []string  `json:"member_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember reports whether userID is a member of the workspace.
func (w *Workspace) HasMember(userID string) bool {
	for _, id := range w.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
