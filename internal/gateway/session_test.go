package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/assistant-core/internal/model"
	"github.com/capitalize-ai/assistant-core/pkg/logger"
)

// fakeReader serves events from an in-memory slice per stream.
type fakeReader struct {
	mu     sync.Mutex
	events map[string][]model.StreamEvent
	fail   bool
	reads  int
}

func (r *fakeReader) add(streamID string, from, to uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string][]model.StreamEvent)
	}
	for seq := from; seq <= to; seq++ {
		r.events[streamID] = append(r.events[streamID], model.StreamEvent{
			StreamID: streamID,
			Sequence: seq,
			Type:     model.EventTypeContentDelta,
			Data:     json.RawMessage(`{"text":"x"}`),
		})
	}
}

func (r *fakeReader) Read(ctx context.Context, streamID string, since uint64, limit int) ([]model.StreamEvent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.fail {
		return nil, false, context.DeadlineExceeded
	}
	var out []model.StreamEvent
	for _, e := range r.events[streamID] {
		if e.Sequence > since {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			return out, true, nil
		}
	}
	return out, false, nil
}

type allowAll struct{}

func (allowAll) CanReadStream(ctx context.Context, userID, tenantID, streamID string) (bool, error) {
	return true, nil
}

type denyAll struct{ checks int }

func (d *denyAll) CanReadStream(ctx context.Context, userID, tenantID, streamID string) (bool, error) {
	d.checks++
	return false, nil
}

// pushLog records delivered events.
type pushLog struct {
	mu     sync.Mutex
	pushed []model.StreamEvent
}

func (p *pushLog) push(event model.StreamEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, event)
	return nil
}

func (p *pushLog) sequences(streamID string) []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []uint64
	for _, e := range p.pushed {
		if e.StreamID == streamID {
			out = append(out, e.Sequence)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBootstrapReplaysFromCursor(t *testing.T) {
	reader := &fakeReader{}
	reader.add("E2", 1, 8)
	pushes := &pushLog{}

	s := NewSession(context.Background(), reader, allowAll{}, pushes.push, "u1", "t1",
		map[string]uint64{"E2": 5}, 100, logger.NewNop())
	defer s.Close()

	s.Bootstrap()
	waitFor(t, func() bool { return len(pushes.sequences("E2")) == 3 })

	assert.Equal(t, []uint64{6, 7, 8}, pushes.sequences("E2"))
	assert.Equal(t, Cursor{Set: true, Seq: 8}, s.Cursor("E2"))

	// A stray notification for an already-delivered sequence is a no-op.
	s.HandleNotification(model.Notification{StreamID: "E2", Sequence: 7, Type: model.EventTypeContentDelta})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []uint64{6, 7, 8}, pushes.sequences("E2"))
}

func TestGapSelfHealing(t *testing.T) {
	reader := &fakeReader{}
	reader.add("E1", 1, 5)
	pushes := &pushLog{}

	s := NewSession(context.Background(), reader, allowAll{}, pushes.push, "u1", "t1",
		map[string]uint64{"E1": 0}, 100, logger.NewNop())
	defer s.Close()

	// Notifications 1..4 were lost; only sequence 5 arrives.
	s.HandleNotification(model.Notification{StreamID: "E1", Sequence: 5, Type: model.EventTypeContentDelta})
	waitFor(t, func() bool { return len(pushes.sequences("E1")) == 5 })

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, pushes.sequences("E1"))
}

func TestFastPathDeliversSingleEvent(t *testing.T) {
	reader := &fakeReader{}
	reader.add("E1", 1, 3)
	pushes := &pushLog{}

	s := NewSession(context.Background(), reader, allowAll{}, pushes.push, "u1", "t1",
		map[string]uint64{"E1": 2}, 100, logger.NewNop())
	defer s.Close()

	s.HandleNotification(model.Notification{StreamID: "E1", Sequence: 3, Type: model.EventTypeContentDelta})
	waitFor(t, func() bool { return len(pushes.sequences("E1")) == 1 })

	assert.Equal(t, []uint64{3}, pushes.sequences("E1"))
	assert.Equal(t, Cursor{Set: true, Seq: 3}, s.Cursor("E1"))
}

func TestDuplicateNotificationIsIdempotent(t *testing.T) {
	reader := &fakeReader{}
	reader.add("E1", 1, 3)
	pushes := &pushLog{}

	s := NewSession(context.Background(), reader, allowAll{}, pushes.push, "u1", "t1",
		map[string]uint64{"E1": 2}, 100, logger.NewNop())
	defer s.Close()

	n := model.Notification{StreamID: "E1", Sequence: 3, Type: model.EventTypeContentDelta}
	s.HandleNotification(n)
	waitFor(t, func() bool { return len(pushes.sequences("E1")) == 1 })
	s.HandleNotification(n)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []uint64{3}, pushes.sequences("E1"))
}

func TestUnrequestedStreamIgnored(t *testing.T) {
	reader := &fakeReader{}
	reader.add("other", 1, 3)
	pushes := &pushLog{}

	s := NewSession(context.Background(), reader, allowAll{}, pushes.push, "u1", "t1",
		map[string]uint64{"E1": 0}, 100, logger.NewNop())
	defer s.Close()

	s.HandleNotification(model.Notification{StreamID: "other", Sequence: 1, Type: model.EventTypeContentDelta})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, pushes.pushed)
}

func TestUnauthorizedStreamNeverPushed(t *testing.T) {
	reader := &fakeReader{}
	reader.add("E1", 1, 3)
	pushes := &pushLog{}
	deny := &denyAll{}

	s := NewSession(context.Background(), reader, deny, pushes.push, "u1", "t1",
		map[string]uint64{"E1": 0}, 100, logger.NewNop())
	defer s.Close()

	for seq := uint64(1); seq <= 3; seq++ {
		s.HandleNotification(model.Notification{StreamID: "E1", Sequence: seq, Type: model.EventTypeContentDelta})
	}
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, pushes.pushed)
	// The verdict is cached after the first check.
	assert.Equal(t, 1, deny.checks)
}

func TestFailedCatchupRetriesOnNextTrigger(t *testing.T) {
	reader := &fakeReader{}
	reader.add("E1", 1, 2)
	reader.fail = true
	pushes := &pushLog{}

	s := NewSession(context.Background(), reader, allowAll{}, pushes.push, "u1", "t1",
		map[string]uint64{"E1": 0}, 100, logger.NewNop())
	defer s.Close()

	s.HandleNotification(model.Notification{StreamID: "E1", Sequence: 2, Type: model.EventTypeContentDelta})
	waitFor(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return reader.reads >= 1
	})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, pushes.pushed)

	reader.mu.Lock()
	reader.fail = false
	reader.mu.Unlock()

	s.HandleNotification(model.Notification{StreamID: "E1", Sequence: 2, Type: model.EventTypeContentDelta})
	waitFor(t, func() bool { return len(pushes.sequences("E1")) == 2 })
	assert.Equal(t, []uint64{1, 2}, pushes.sequences("E1"))
}

func TestCloseIsIdempotentAndStopsPushes(t *testing.T) {
	reader := &fakeReader{}
	reader.add("E1", 1, 3)
	pushes := &pushLog{}

	s := NewSession(context.Background(), reader, allowAll{}, pushes.push, "u1", "t1",
		map[string]uint64{"E1": 0}, 100, logger.NewNop())

	s.Close()
	s.Close() // double close is expected, not a bug

	s.HandleNotification(model.Notification{StreamID: "E1", Sequence: 1, Type: model.EventTypeContentDelta})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, pushes.pushed)
}

func TestPagedCatchupDrainsBacklog(t *testing.T) {
	reader := &fakeReader{}
	reader.add("E1", 1, 25)
	pushes := &pushLog{}

	// Page size 10 forces three read pages for one drain.
	s := NewSession(context.Background(), reader, allowAll{}, pushes.push, "u1", "t1",
		map[string]uint64{"E1": 0}, 10, logger.NewNop())
	defer s.Close()

	s.HandleNotification(model.Notification{StreamID: "E1", Sequence: 25, Type: model.EventTypeContentDelta})
	waitFor(t, func() bool { return len(pushes.sequences("E1")) == 25 })

	seqs := pushes.sequences("E1")
	require.Len(t, seqs, 25)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestConcurrentNotificationsDeliverInOrder(t *testing.T) {
	reader := &fakeReader{}
	reader.add("E1", 1, 200)
	pushes := &pushLog{}

	// Small pages plus racing triggers exercise the drain coalescing.
	s := NewSession(context.Background(), reader, allowAll{}, pushes.push, "u1", "t1",
		map[string]uint64{"E1": 0}, 7, logger.NewNop())
	defer s.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for seq := offset + 1; seq <= 200; seq += 8 {
				s.HandleNotification(model.Notification{
					StreamID: "E1",
					Sequence: uint64(seq),
					Type:     model.EventTypeContentDelta,
				})
			}
		}(g)
	}
	wg.Wait()

	waitFor(t, func() bool { return len(pushes.sequences("E1")) == 200 })

	seqs := pushes.sequences("E1")
	require.Len(t, seqs, 200)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}
}
