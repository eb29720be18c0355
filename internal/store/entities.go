// Package store provides JetStream KV backed storage for the business
// entities tool calls act on and for conversation turns.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/assistant-core/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// EntityStore holds organizations, folders, use cases, documents, workspaces
// and exchange placeholders, keyed by kind-prefixed ids.
type EntityStore struct {
	kv jetstream.KeyValue
}

// NewEntityStore creates an entity store over a KV bucket.
func NewEntityStore(kv jetstream.KeyValue) *EntityStore {
	return &EntityStore{kv: kv}
}

func (s *EntityStore) get(ctx context.Context, key string, v any) error {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(entry.Value(), v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *EntityStore) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// GetOrganization retrieves an organization by id.
func (s *EntityStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	if err := s.get(ctx, "org."+id, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// PutOrganization stores an organization.
func (s *EntityStore) PutOrganization(ctx context.Context, org *model.Organization) error {
	return s.put(ctx, "org."+org.ID, org)
}

// GetFolder retrieves a folder by id.
func (s *EntityStore) GetFolder(ctx context.Context, id string) (*model.Folder, error) {
	var folder model.Folder
	if err := s.get(ctx, "folder."+id, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

// PutFolder stores a folder.
func (s *EntityStore) PutFolder(ctx context.Context, folder *model.Folder) error {
	return s.put(ctx, "folder."+folder.ID, folder)
}

// GetUseCase retrieves a use case by id.
func (s *EntityStore) GetUseCase(ctx context.Context, id string) (*model.UseCase, error) {
	var uc model.UseCase
	if err := s.get(ctx, "usecase."+id, &uc); err != nil {
		return nil, err
	}
	return &uc, nil
}

// PutUseCase stores a use case.
func (s *EntityStore) PutUseCase(ctx context.Context, uc *model.UseCase) error {
	return s.put(ctx, "usecase."+uc.ID, uc)
}

// ListUseCases returns all use cases in a folder.
func (s *EntityStore) ListUseCases(ctx context.Context, folderID string) ([]model.UseCase, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var out []model.UseCase
	for key := range lister.Keys() {
		if len(key) < 8 || key[:8] != "usecase." {
			continue
		}
		var uc model.UseCase
		if err := s.get(ctx, key, &uc); err != nil {
			continue
		}
		if uc.FolderID == folderID {
			out = append(out, uc)
		}
	}
	return out, nil
}

// GetDocument retrieves a document by id.
func (s *EntityStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := s.get(ctx, "doc."+id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// PutDocument stores a document.
func (s *EntityStore) PutDocument(ctx context.Context, doc *model.Document) error {
	return s.put(ctx, "doc."+doc.ID, doc)
}

// GetWorkspace retrieves a workspace by id.
func (s *EntityStore) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace
	if err := s.get(ctx, "workspace."+id, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// PutWorkspace stores a workspace.
func (s *EntityStore) PutWorkspace(ctx context.Context, ws *model.Workspace) error {
	return s.put(ctx, "workspace."+ws.ID, ws)
}

// GetExchange retrieves an exchange placeholder by id.
func (s *EntityStore) GetExchange(ctx context.Context, id string) (*model.Exchange, error) {
	var ex model.Exchange
	if err := s.get(ctx, "exchange."+id, &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

// PutExchange stores an exchange placeholder.
func (s *EntityStore) PutExchange(ctx context.Context, ex *model.Exchange) error {
	return s.put(ctx, "exchange."+ex.ID, ex)
}
