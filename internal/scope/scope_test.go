package scope

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/assistant-core/internal/model"
	natsclient "github.com/capitalize-ai/assistant-core/internal/nats"
	"github.com/capitalize-ai/assistant-core/internal/store"
	"github.com/capitalize-ai/assistant-core/pkg/logger"
)

type staticPolicy struct{ readOnly bool }

func (p staticPolicy) IsWorkspaceReadOnly(ctx context.Context, workspaceID string) (bool, error) {
	return p.readOnly, nil
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

func seedUseCaseContext(t *testing.T, entities *store.EntityStore) {
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
}

func TestResolveUseCasePinsLinkedIDs(t *testing.T) {
	entities := testEntities(t)
	seedUseCaseContext(t, entities)

	sc, err := Resolve(context.Background(), entities, staticPolicy{},
		model.ContextUseCase, "uc-1", []string{"uc-2"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "uc-1", sc.UseCaseID)
	assert.Equal(t, "f-1", sc.FolderID)
	assert.Equal(t, "org-1", sc.OrganizationID)
	assert.Equal(t, "ws-1", sc.WorkspaceID)

	assert.True(t, sc.Allows("update_use_case"))
	assert.True(t, sc.Allows("get_folder"))
	assert.False(t, sc.Allows("list_use_cases"))

	assert.True(t, sc.CanReadUseCase("uc-1"))
	assert.True(t, sc.CanReadUseCase("uc-2"))
	assert.False(t, sc.CanReadUseCase("uc-3"))
}

func TestResolveReadOnlyWorkspaceStripsMutatingTools(t *testing.T) {
	entities := testEntities(t)
	seedUseCaseContext(t, entities)

	sc, err := Resolve(context.Background(), entities, staticPolicy{readOnly: true},
		model.ContextUseCase, "uc-1", nil, nil)
	require.NoError(t, err)

	assert.False(t, sc.Allows("update_use_case"))
	assert.True(t, sc.Allows("get_use_case"))
	assert.True(t, sc.Allows("web_search"))
}

func TestResolveToolFilterIntersects(t *testing.T) {
	entities := testEntities(t)
	seedUseCaseContext(t, entities)

	sc, err := Resolve(context.Background(), entities, staticPolicy{},
		model.ContextUseCase, "uc-1", nil, []string{"web_search", "list_use_cases"})
	require.NoError(t, err)

	// The filter can only narrow the kind's set, never widen it.
	assert.True(t, sc.Allows("web_search"))
	assert.False(t, sc.Allows("list_use_cases"))
	assert.False(t, sc.Allows("get_use_case"))
}

func TestResolveFolderContext(t *testing.T) {
	entities := testEntities(t)
	seedUseCaseContext(t, entities)

	sc, err := Resolve(context.Background(), entities, staticPolicy{},
		model.ContextFolder, "f-1", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "f-1", sc.FolderID)
	assert.Equal(t, "org-1", sc.OrganizationID)
	assert.True(t, sc.Allows("list_use_cases"))
	assert.False(t, sc.Allows("update_use_case"))
}

func TestResolveMissingContextFails(t *testing.T) {
	entities := testEntities(t)

	_, err := Resolve(context.Background(), entities, staticPolicy{},
		model.ContextUseCase, "nope", nil, nil)
	assert.Error(t, err)
}

func TestResolveUnknownKindFails(t *testing.T) {
	entities := testEntities(t)

	_, err := Resolve(context.Background(), entities, staticPolicy{},
		model.ContextKind("team"), "x", nil, nil)
	assert.Error(t, err)
}
