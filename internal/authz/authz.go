// Package authz answers stream and workspace authorization questions for the
// gateway and the orchestrator.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/assistant-core/internal/store"
)

// Authorizer resolves read access to streams and the read-only flag of
// workspaces. A stream is readable by the exchange owner and by members of
// the exchange's workspace, within the same tenant.
type Authorizer struct {
	entities *store.EntityStore
}

// New creates an authorizer over the entity store.
func New(entities *store.EntityStore) *Authorizer {
	return &Authorizer{entities: entities}
}

// CanReadStream reports whether the principal may read events for a stream.
// Unknown streams are not readable; callers cannot distinguish "missing"
// from "forbidden".
func (a *Authorizer) CanReadStream(ctx context.Context, userID, tenantID, streamID string) (bool, error) {
	exchange, err := a.entities.GetExchange(ctx, streamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve stream owner: %w", err)
	}

	if exchange.TenantID != tenantID {
		return false, nil
	}
	if exchange.UserID == userID {
		return true, nil
	}

	if exchange.WorkspaceID == "" {
		return false, nil
	}
	workspace, err := a.entities.GetWorkspace(ctx, exchange.WorkspaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	return workspace.HasMember(userID), nil
}

// IsWorkspaceReadOnly reports whether a workspace forbids mutations. Missing
// workspaces are treated as read-only.
func (a *Authorizer) IsWorkspaceReadOnly(ctx context.Context, workspaceID string) (bool, error) {
	if workspaceID == "" {
		return false, nil
	}
	workspace, err := a.entities.GetWorkspace(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	return workspace.ReadOnly, nil
}
