package authz

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

func testAuthorizer(t *testing.T) (*Authorizer, *store.EntityStore) {
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
	entities := store.NewEntityStore(kv)
	return New(entities), entities
}

func TestCanReadStream(t *testing.T) {
	a, entities := testAuthorizer(t)
	ctx := context.Background()

	require.NoError(t, entities.PutWorkspace(ctx, &model.Workspace{
		ID: "ws-1", TenantID: "tenant-1", MemberIDs: []string{"member-1"},
	}))
	require.NoError(t, entities.PutExchange(ctx, &model.Exchange{
		ID: "E1", SessionID: "s-1", TenantID: "tenant-1", UserID: "owner-1", WorkspaceID: "ws-1",
	}))

	cases := []struct {
		name     string
		userID   string
		tenantID string
		streamID string
		want     bool
	}{
		{"owner", "owner-1", "tenant-1", "E1", true},
		{"workspace member", "member-1", "tenant-1", "E1", true},
		{"stranger", "nobody", "tenant-1", "E1", false},
		{"wrong tenant", "owner-1", "tenant-2", "E1", false},
		{"unknown stream", "owner-1", "tenant-1", "E-missing", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.CanReadStream(ctx, tc.userID, tc.tenantID, tc.streamID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanReadStreamWithoutWorkspace(t *testing.T) {
	a, entities := testAuthorizer(t)
	ctx := context.Background()

	require.NoError(t, entities.PutExchange(ctx, &model.Exchange{
		ID: "E2", TenantID: "tenant-1", UserID: "owner-1",
	}))

	got, err := a.CanReadStream(ctx, "someone-else", "tenant-1", "E2")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIsWorkspaceReadOnly(t *testing.T) {
	a, entities := testAuthorizer(t)
	ctx := context.Background()

	require.NoError(t, entities.PutWorkspace(ctx, &model.Workspace{ID: "ws-rw", TenantID: "t"}))
	require.NoError(t, entities.PutWorkspace(ctx, &model.Workspace{ID: "ws-ro", TenantID: "t", ReadOnly: true}))

	ro, err := a.IsWorkspaceReadOnly(ctx, "ws-rw")
	require.NoError(t, err)
	assert.False(t, ro)

	ro, err = a.IsWorkspaceReadOnly(ctx, "ws-ro")
	require.NoError(t, err)
	assert.True(t, ro)

	// No workspace on the exchange means no restriction.
	ro, err = a.IsWorkspaceReadOnly(ctx, "")
	require.NoError(t, err)
	assert.False(t, ro)

	// A dangling workspace id fails closed.
	ro, err = a.IsWorkspaceReadOnly(ctx, "ws-missing")
	require.NoError(t, err)
	assert.True(t, ro)
}
