package tool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/assistant-core/internal/model"
	natsclient "github.com/capitalize-ai/assistant-core/internal/nats"
	"github.com/capitalize-ai/assistant-core/internal/scope"
	"github.com/capitalize-ai/assistant-core/internal/store"
	"github.com/capitalize-ai/assistant-core/pkg/logger"
)

type openPolicy struct{}

func (openPolicy) IsWorkspaceReadOnly(ctx context.Context, workspaceID string) (bool, error) {
	return false, nil
}

func testEntities(t *testing.T) *store.EntityStore {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}

	client, err := natsclient.Connect(context.Background(),
		natsclient.Config{URL: srv.ClientURL()}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	kv, err := client.EnsureKeyValue(context.Background(), "ENTITIES")
	require.NoError(t, err)
	return store.NewEntityStore(kv)
}

func seed(t *testing.T, entities *store.EntityStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, entities.PutOrganization(ctx, &model.Organization{
		ID: "org-1", WorkspaceID: "ws-1", Name: "Acme",
	}))
	require.NoError(t, entities.PutFolder(ctx, &model.Folder{
		ID: "f-1", WorkspaceID: "ws-1", OrganizationID: "org-1",
	}))
	require.NoError(t, entities.PutUseCase(ctx, &model.UseCase{
		ID: "uc-1", WorkspaceID: "ws-1", FolderID: "f-1", Title: "target",
	}))
	require.NoError(t, entities.PutUseCase(ctx, &model.UseCase{
		ID: "uc-other", WorkspaceID: "ws-1", FolderID: "f-other", Title: "foreign",
	}))
}

func useCaseScope(t *testing.T, entities *store.EntityStore) *scope.Scope {
	t.Helper()
	sc, err := scope.Resolve(context.Background(), entities, openPolicy{},
		model.ContextUseCase, "uc-1", nil, nil)
	require.NoError(t, err)
	return sc
}

func TestUpdateUseCaseRejectsForeignTarget(t *testing.T) {
	entities := testEntities(t)
	seed(t, entities)
	registry := NewRegistry(Services{Entities: entities})
	sc := useCaseScope(t, entities)

	v, ok := registry.Lookup("update_use_case")
	require.True(t, ok)

	_, err := v.Execute(context.Background(), sc, `{"use_case_id":"uc-other","title":"hacked"}`)
	assert.ErrorIs(t, err, ErrScopeViolation)

	// The foreign entity must be untouched.
	uc, err := entities.GetUseCase(context.Background(), "uc-other")
	require.NoError(t, err)
	assert.Equal(t, "foreign", uc.Title)
}

func TestUpdateUseCaseMutatesPinnedTarget(t *testing.T) {
	entities := testEntities(t)
	seed(t, entities)
	registry := NewRegistry(Services{Entities: entities})
	sc := useCaseScope(t, entities)

	v, _ := registry.Lookup("update_use_case")
	result, err := v.Execute(context.Background(), sc, `{"use_case_id":"uc-1","title":"renamed"}`)
	require.NoError(t, err)

	var uc model.UseCase
	require.NoError(t, json.Unmarshal(result, &uc))
	assert.Equal(t, "renamed", uc.Title)

	stored, err := entities.GetUseCase(context.Background(), "uc-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Title)
}

func TestGetUseCaseSecondaryContext(t *testing.T) {
	entities := testEntities(t)
	seed(t, entities)
	registry := NewRegistry(Services{Entities: entities})

	sc, err := scope.Resolve(context.Background(), entities, openPolicy{},
		model.ContextUseCase, "uc-1", []string{"uc-other"}, nil)
	require.NoError(t, err)

	v, _ := registry.Lookup("get_use_case")
	_, err = v.Execute(context.Background(), sc, `{"use_case_id":"uc-other"}`)
	assert.NoError(t, err)
}

func TestGetUseCaseWithinFolderScope(t *testing.T) {
	entities := testEntities(t)
	seed(t, entities)
	registry := NewRegistry(Services{Entities: entities})

	sc, err := scope.Resolve(context.Background(), entities, openPolicy{},
		model.ContextFolder, "f-1", nil, nil)
	require.NoError(t, err)

	v, _ := registry.Lookup("get_use_case")

	// Inside the folder: readable.
	_, err = v.Execute(context.Background(), sc, `{"use_case_id":"uc-1"}`)
	assert.NoError(t, err)

	// Outside the folder: scope violation.
	_, err = v.Execute(context.Background(), sc, `{"use_case_id":"uc-other"}`)
	assert.ErrorIs(t, err, ErrScopeViolation)
}

func TestReadDocumentChecksWorkspace(t *testing.T) {
	entities := testEntities(t)
	seed(t, entities)
	require.NoError(t, entities.PutDocument(context.Background(), &model.Document{
		ID: "doc-1", WorkspaceID: "ws-other", Name: "secret",
	}))
	registry := NewRegistry(Services{Entities: entities})
	sc := useCaseScope(t, entities)

	v, _ := registry.Lookup("read_document")
	_, err := v.Execute(context.Background(), sc, `{"document_id":"doc-1"}`)
	assert.ErrorIs(t, err, ErrScopeViolation)
}

func TestDefinitionsFollowScope(t *testing.T) {
	entities := testEntities(t)
	seed(t, entities)
	registry := NewRegistry(Services{Entities: entities})
	sc := useCaseScope(t, entities)

	defs := registry.Definitions(sc)
	names := make(map[string]bool)
	for _, d := range defs {
		names[d.Name] = true
		assert.NotEmpty(t, d.Description)
		assert.True(t, json.Valid(d.InputSchema))
	}
	assert.True(t, names["get_use_case"])
	assert.True(t, names["update_use_case"])
	assert.False(t, names["list_use_cases"])
}

func TestSchemasDeclareRequiredFields(t *testing.T) {
	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	require.NoError(t, json.Unmarshal(reflectSchema(&updateUseCaseArgs{}), &schema))

	assert.Equal(t, "object", schema.Type)
	assert.Contains(t, schema.Properties, "use_case_id")
	assert.Contains(t, schema.Required, "use_case_id")
}

func TestInvalidArgumentsRejected(t *testing.T) {
	entities := testEntities(t)
	seed(t, entities)
	registry := NewRegistry(Services{Entities: entities})
	sc := useCaseScope(t, entities)

	v, _ := registry.Lookup("get_use_case")
	_, err := v.Execute(context.Background(), sc, `{"use_case_id":`)
	assert.Error(t, err)
}
