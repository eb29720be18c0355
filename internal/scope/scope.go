// Package scope resolves the active context of a generation episode into the
// set of callable tools and the pinned target ids the security contract
// validates tool calls against.
//
// Read-only workspaces are handled here, once: mutating tools are stripped
// from the allowed set up front so the round loop never re-checks a flag.
package scope

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/assistant-core/internal/model"
	"github.com/capitalize-ai/assistant-core/internal/store"
)

// Scope is the resolved context of one episode. Immutable once built.
type Scope struct {
	Kind model.ContextKind
	ID   string

	// Pinned ids derived from the context entity. A tool call targeting an
	// entity outside these ids is rejected.
	OrganizationID string
	FolderID       string
	UseCaseID      string

	// SecondaryIDs widen read access to additional use cases.
	SecondaryIDs map[string]bool

	WorkspaceID string

	allowed map[string]bool
}

// allowedByKind is the static table of callable tool names per context kind.
var allowedByKind = map[model.ContextKind][]string{
	model.ContextOrganization: {
		"get_organization", "update_organization",
		"web_search", "web_extract", "read_document",
	},
	model.ContextFolder: {
		"get_organization", "update_organization", "get_folder",
		"list_use_cases", "get_use_case",
		"web_search", "web_extract", "read_document",
	},
	model.ContextUseCase: {
		"get_use_case", "update_use_case", "get_folder", "get_organization",
		"web_search", "web_extract", "read_document",
	},
}

// mutatingTools are removed from the allowed set in read-only workspaces.
var mutatingTools = map[string]bool{
	"update_organization": true,
	"update_use_case":     true,
}

// WorkspacePolicy is the slice of the authorization layer scope resolution
// consults.
type WorkspacePolicy interface {
	IsWorkspaceReadOnly(ctx context.Context, workspaceID string) (bool, error)
}

// Resolve builds the scope for an episode: loads the context entity, pins the
// linked entity ids, and computes the allowed toolset.
func Resolve(ctx context.Context, entities *store.EntityStore, policy WorkspacePolicy, kind model.ContextKind, contextID string, secondaryIDs, toolFilter []string) (*Scope, error) {
	s := &Scope{
		Kind:         kind,
		ID:           contextID,
		SecondaryIDs: make(map[string]bool),
	}
	for _, id := range secondaryIDs {
		s.SecondaryIDs[id] = true
	}

	switch kind {
	case model.ContextOrganization:
		org, err := entities.GetOrganization(ctx, contextID)
		if err != nil {
			return nil, fmt.Errorf("failed to load organization context: %w", err)
		}
		s.OrganizationID = org.ID
		s.WorkspaceID = org.WorkspaceID

	case model.ContextFolder:
		folder, err := entities.GetFolder(ctx, contextID)
		if err != nil {
			return nil, fmt.Errorf("failed to load folder context: %w", err)
		}
		s.FolderID = folder.ID
		s.OrganizationID = folder.OrganizationID
		s.WorkspaceID = folder.WorkspaceID

	case model.ContextUseCase:
		uc, err := entities.GetUseCase(ctx, contextID)
		if err != nil {
			return nil, fmt.Errorf("failed to load use case context: %w", err)
		}
		s.UseCaseID = uc.ID
		s.FolderID = uc.FolderID
		s.WorkspaceID = uc.WorkspaceID
		if uc.FolderID != "" {
			folder, err := entities.GetFolder(ctx, uc.FolderID)
			if err == nil {
				s.OrganizationID = folder.OrganizationID
			}
		}

	default:
		return nil, fmt.Errorf("unknown context kind %q", kind)
	}

	readOnly, err := policy.IsWorkspaceReadOnly(ctx, s.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace policy: %w", err)
	}

	filter := make(map[string]bool)
	for _, name := range toolFilter {
		filter[name] = true
	}

	s.allowed = make(map[string]bool)
	for _, name := range allowedByKind[kind] {
		if readOnly && mutatingTools[name] {
			continue
		}
		if len(filter) > 0 && !filter[name] {
			continue
		}
		s.allowed[name] = true
	}

	return s, nil
}

// Allows reports whether a tool name is callable in this scope.
func (s *Scope) Allows(toolName string) bool {
	return s.allowed[toolName]
}

// AllowedTools returns the callable tool names.
func (s *Scope) AllowedTools() []string {
	names := make([]string, 0, len(s.allowed))
	for name := range s.allowed {
		names = append(names, name)
	}
	return names
}

// CanReadUseCase reports whether a use case id is readable in this scope,
// either as the pinned target or as a secondary context.
func (s *Scope) CanReadUseCase(id string) bool {
	return id == s.UseCaseID || s.SecondaryIDs[id]
}
