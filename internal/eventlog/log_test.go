package eventlog

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
	"github.com/capitalize-ai/assistant-core/pkg/logger"
)

// startTestNATS starts an embedded NATS server with JetStream enabled and
// returns a connected client.
func startTestNATS(t *testing.T) *natsclient.Client {
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
	return client
}

func newTestLog(t *testing.T) *Log {
	t.Helper()
	client := startTestNATS(t)
	l := New(client, logger.NewNop())
	require.NoError(t, l.EnsureStream(context.Background()))
	return l
}

func appendN(t *testing.T, l *Log, streamID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.Append(context.Background(), streamID,
			model.EventTypeContentDelta, json.RawMessage(`{"text":"x"}`), streamID)
		require.NoError(t, err)
	}
}

func TestAppendAssignsDenseSequences(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for want := uint64(1); want <= 5; want++ {
		seq, err := l.Append(ctx, "E1", model.EventTypeContentDelta,
			json.RawMessage(`{"text":"x"}`), "E1")
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}
}

func TestSequencesAreIndependentPerStream(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	appendN(t, l, "E1", 3)

	seq, err := l.Append(ctx, "E2", model.EventTypeStatus,
		json.RawMessage(`{"phase":"started"}`), "E2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestAppendRecoversAfterRestart(t *testing.T) {
	client := startTestNATS(t)
	ctx := context.Background()

	l1 := New(client, logger.NewNop())
	require.NoError(t, l1.EnsureStream(ctx))
	appendN(t, l1, "E1", 3)

	// A fresh Log over the same storage must continue the sequence, not fork it.
	l2 := New(client, logger.NewNop())
	seq, err := l2.Append(ctx, "E1", model.EventTypeDone,
		json.RawMessage(`{"rounds":1}`), "E1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestReadSinceSequence(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	appendN(t, l, "E1", 8)

	events, hasMore, err := l.Read(ctx, "E1", 5, 100)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(6), events[0].Sequence)
	assert.Equal(t, uint64(7), events[1].Sequence)
	assert.Equal(t, uint64(8), events[2].Sequence)
	for _, e := range events {
		assert.Equal(t, "E1", e.StreamID)
		assert.Equal(t, model.EventTypeContentDelta, e.Type)
	}
}

func TestReadIsolatesStreams(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	appendN(t, l, "E1", 3)
	appendN(t, l, "E2", 2)

	events, _, err := l.Read(ctx, "E2", 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "E2", e.StreamID)
	}
}

func TestReadHonorsLimit(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	appendN(t, l, "E1", 7)

	events, hasMore, err := l.Read(ctx, "E1", 0, 5)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, events, 5)
	assert.Equal(t, uint64(5), events[4].Sequence)

	// The remainder is read by advancing the cursor.
	events, hasMore, err = l.Read(ctx, "E1", 5, 5)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, events, 2)
}

func TestReadEmptyStream(t *testing.T) {
	l := newTestLog(t)

	events, hasMore, err := l.Read(context.Background(), "nope", 0, 100)
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Empty(t, events)
}

func TestListActiveStreams(t *testing.T) {
	l := newTestLog(t)

	appendN(t, l, "E1", 1)
	appendN(t, l, "E2", 1)

	ids, err := l.ListActiveStreams(context.Background(), 60, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"E1", "E2"}, ids)
}
