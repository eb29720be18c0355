// Package gateway implements the per-connection fan-out session.
//
// A Session owns the subscriber state for exactly one client connection: a
// tri-state cursor per requested stream, a cached authorization verdict per
// stream, and the drain coalescing flags that keep catch-up reads for one
// stream from overlapping. Nothing in here is shared across connections.
package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-core/internal/model"
	"github.com/capitalize-ai/assistant-core/pkg/logger"
	"github.com/capitalize-ai/assistant-core/pkg/metrics"
)

// Reader reads a bounded range of events for one stream.
type Reader interface {
	Read(ctx context.Context, streamID string, sinceSequence uint64, limit int) ([]model.StreamEvent, bool, error)
}

// Authorizer answers whether a principal may read a stream. Authorization
// does not change mid-connection, so verdicts are cached per session.
type Authorizer interface {
	CanReadStream(ctx context.Context, userID, tenantID, streamID string) (bool, error)
}

// Pusher delivers one event to the client connection. Pushes are serialized
// by the session; an error aborts the current drain but not the session.
type Pusher func(event model.StreamEvent) error

// Cursor is the last delivered sequence for one stream. The zero value means
// "never bootstrapped", which is distinct from "delivered up to sequence 0".
type Cursor struct {
	Set bool
	Seq uint64
}

// streamSub is the per-stream subscriber state.
type streamSub struct {
	cursor   Cursor
	allowed  *bool // nil until the first authorization check
	draining bool
	pending  bool
}

// Session is one live fan-out connection.
type Session struct {
	reader   Reader
	authz    Authorizer
	push     Pusher
	logger   *logger.Logger
	userID   string
	tenantID string
	pageSize int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*streamSub
	closed bool

	closeOnce sync.Once
	drains    sync.WaitGroup
}

// NewSession creates a session for one connection. cursors maps each
// requested stream id to the client's last-seen sequence; a missing entry
// (requested via RequestStream) subscribes with an unset cursor.
func NewSession(ctx context.Context, reader Reader, authz Authorizer, push Pusher, userID, tenantID string, cursors map[string]uint64, pageSize int, log *logger.Logger) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		reader:   reader,
		authz:    authz,
		push:     push,
		logger:   log,
		userID:   userID,
		tenantID: tenantID,
		pageSize: pageSize,
		ctx:      sctx,
		cancel:   cancel,
		subs:     make(map[string]*streamSub),
	}
	for id, seq := range cursors {
		s.subs[id] = &streamSub{cursor: Cursor{Set: true, Seq: seq}}
	}
	metrics.SSEConnectionsActive.Inc()
	return s
}

// RequestStream adds a stream to the requested set with an unset cursor.
func (s *Session) RequestStream(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[streamID]; !ok {
		s.subs[streamID] = &streamSub{}
	}
}

// Bootstrap performs the initial catch-up read for every requested stream
// that carries a client-supplied cursor, pushing all returned events.
func (s *Session) Bootstrap() {
	s.mu.Lock()
	var ids []string
	for id, sub := range s.subs {
		if sub.cursor.Set {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.trigger(id)
	}
}

// HandleNotification applies one change notification to the session state.
// Stale and foreign notifications are ignored; a sequential next event takes
// the single-fetch fast path; anything else triggers a coalesced catch-up.
func (s *Session) HandleNotification(n model.Notification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	sub, ok := s.subs[n.StreamID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if sub.cursor.Set && n.Sequence <= sub.cursor.Seq {
		s.mu.Unlock()
		return
	}
	fastPath := sub.cursor.Set && !sub.draining && n.Sequence == sub.cursor.Seq+1
	s.mu.Unlock()

	if !s.streamAllowed(n.StreamID) {
		return
	}

	if fastPath {
		s.deliverNext(n.StreamID, n.Sequence)
		return
	}

	s.trigger(n.StreamID)
}

// streamAllowed resolves and caches the authorization verdict for a stream.
func (s *Session) streamAllowed(streamID string) bool {
	s.mu.Lock()
	sub, ok := s.subs[streamID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if sub.allowed != nil {
		allowed := *sub.allowed
		s.mu.Unlock()
		return allowed
	}
	s.mu.Unlock()

	allowed, err := s.authz.CanReadStream(s.ctx, s.userID, s.tenantID, streamID)
	if err != nil {
		// Fail closed but do not cache: the next trigger re-checks.
		s.logger.Warn("stream authorization check failed",
			zap.String("stream_id", streamID), zap.Error(err))
		return false
	}

	s.mu.Lock()
	sub.allowed = &allowed
	s.mu.Unlock()
	return allowed
}

// deliverNext is the fast path: fetch exactly the next event and push it.
// Falls back to a full catch-up when the read comes back short.
func (s *Session) deliverNext(streamID string, sequence uint64) {
	events, _, err := s.reader.Read(s.ctx, streamID, sequence-1, 1)
	if err != nil || len(events) == 0 {
		if err != nil {
			s.logger.Warn("fast-path read failed",
				zap.String("stream_id", streamID), zap.Error(err))
		}
		s.trigger(streamID)
		return
	}
	s.deliver(streamID, events[0])
}

// trigger starts a drain for a stream, or coalesces into the one in flight.
func (s *Session) trigger(streamID string) {
	if !s.streamAllowed(streamID) {
		return
	}

	s.mu.Lock()
	sub, ok := s.subs[streamID]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	if sub.draining {
		sub.pending = true
		s.mu.Unlock()
		return
	}
	sub.draining = true
	s.mu.Unlock()

	s.drains.Add(1)
	go s.drain(streamID, sub)
}

// drain performs catch-up reads for one stream until it is caught up and no
// re-trigger is pending. Only one drain per stream runs at a time.
func (s *Session) drain(streamID string, sub *streamSub) {
	defer s.drains.Done()

	for {
		s.mu.Lock()
		since := sub.cursor.Seq
		s.mu.Unlock()

		events, hasMore, err := s.reader.Read(s.ctx, streamID, since, s.pageSize)
		if err != nil {
			// Logged and retried on the next trigger; a failed catch-up must
			// not take the connection down.
			s.logger.Warn("catch-up read failed",
				zap.String("stream_id", streamID), zap.Error(err))
			s.mu.Lock()
			sub.draining = false
			sub.pending = false
			s.mu.Unlock()
			return
		}

		for _, event := range events {
			if !s.deliver(streamID, event) {
				s.mu.Lock()
				sub.draining = false
				sub.pending = false
				s.mu.Unlock()
				return
			}
		}

		s.mu.Lock()
		if hasMore || sub.pending {
			sub.pending = false
			s.mu.Unlock()
			continue
		}
		sub.draining = false
		s.mu.Unlock()
		return
	}
}

// deliver pushes one event and advances the cursor, serialized under the
// session lock so fast-path and drain pushes cannot interleave out of order.
// Pushes after close are no-ops. Returns false when delivery must stop.
func (s *Session) deliver(streamID string, event model.StreamEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	sub, ok := s.subs[streamID]
	if !ok {
		return false
	}
	if sub.cursor.Set && event.Sequence <= sub.cursor.Seq {
		// Already delivered by a competing path; not an error.
		return true
	}

	if err := s.push(event); err != nil {
		s.logger.Warn("push failed",
			zap.String("stream_id", streamID),
			zap.Uint64("sequence", event.Sequence),
			zap.Error(err))
		return false
	}

	sub.cursor = Cursor{Set: true, Seq: event.Sequence}
	metrics.EventsPushed.Inc()
	return true
}

// Cursor returns the current cursor for a stream, for tests and diagnostics.
func (s *Session) Cursor(streamID string) Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[streamID]; ok {
		return sub.cursor
	}
	return Cursor{}
}

// Close tears the session down exactly once: cancels in-flight reads, marks
// the session closed so late pushes become no-ops, and waits for drains to
// finish. Safe to call from any goroutine, any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		s.drains.Wait()
		metrics.SSEConnectionsActive.Dec()
	})
}
