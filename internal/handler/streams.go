package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-core/internal/authz"
	"github.com/capitalize-ai/assistant-core/internal/eventlog"
	"github.com/capitalize-ai/assistant-core/internal/gateway"
	"github.com/capitalize-ai/assistant-core/internal/middleware"
	"github.com/capitalize-ai/assistant-core/internal/model"
	"github.com/capitalize-ai/assistant-core/internal/notify"
	"github.com/capitalize-ai/assistant-core/pkg/logger"
)

// StreamHandler exposes replay reads and the live SSE subscription.
type StreamHandler struct {
	eventLog   *eventlog.Log
	notifier   *notify.Notifier
	authorizer *authz.Authorizer
	keepAlive  time.Duration
	pageSize   int
	logger     *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(eventLog *eventlog.Log, notifier *notify.Notifier, authorizer *authz.Authorizer, keepAlive time.Duration, pageSize int, log *logger.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	return &StreamHandler{
		eventLog:   eventLog,
		notifier:   notifier,
		authorizer: authorizer,
		keepAlive:  keepAlive,
		pageSize:   pageSize,
		logger:     log,
	}
}

// Read handles GET /api/v1/streams/{id}/events
// Supports ?since_sequence=N&limit=M for resumable replay.
func (h *StreamHandler) Read(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	streamID := chi.URLParam(r, "id")

	if err := middleware.ValidateStreamID(streamID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	allowed, err := h.authorizer.CanReadStream(ctx, middleware.GetUserID(ctx), middleware.GetTenantID(ctx), streamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authorization check failed")
		return
	}
	if !allowed {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	var since uint64
	if s := r.URL.Query().Get("since_sequence"); s != "" {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			since = v
		}
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			limit = v
		}
	}

	events, hasMore, err := h.eventLog.Read(ctx, streamID, since, limit)
	if err != nil {
		h.logger.Error("replay read failed", zap.String("stream_id", streamID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	var last uint64
	if len(events) > 0 {
		last = events[len(events)-1].Sequence
	}

	writeJSON(w, http.StatusOK, &model.ReadEventsResponse{
		Events:       events,
		LastSequence: last,
		HasMore:      hasMore,
	})
}

// Active handles GET /api/v1/streams/active
func (h *StreamHandler) Active(w http.ResponseWriter, r *http.Request) {
	sinceMinutes := 60
	if s := r.URL.Query().Get("since_minutes"); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			sinceMinutes = v
		}
	}

	ids, err := h.eventLog.ListActiveStreams(r.Context(), sinceMinutes, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list streams")
		return
	}

	writeJSON(w, http.StatusOK, &model.ActiveStreamsResponse{StreamIDs: ids})
}

// Subscribe handles GET /api/v1/streams/subscribe?streams=id1:5,id2
// Each entry is a stream id with an optional last-seen sequence. Events are
// delivered as SSE events named after their event type, with the full event
// JSON as data; keep-alive comments flow every keepAlive interval.
func (h *StreamHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	tenantID := middleware.GetTenantID(ctx)

	cursors, bare, err := parseStreamSpec(r.URL.Query().Get("streams"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(cursors) == 0 && len(bare) == 0 {
		writeError(w, http.StatusBadRequest, "streams parameter is required")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// All writes to the response go through one mutex: session pushes come
	// from drain goroutines, keep-alives from this goroutine.
	var writeMu sync.Mutex
	push := func(event model.StreamEvent) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event.Type, event.Sequence, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	session := gateway.NewSession(ctx, h.eventLog, h.authorizer, push, userID, tenantID, cursors, h.pageSize, h.logger)
	defer session.Close()
	for _, id := range bare {
		session.RequestStream(id)
	}

	notifications, err := h.notifier.Subscribe(ctx)
	if err != nil {
		h.logger.Error("notification subscribe failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}

	// Confirm liveness before the first data event.
	writeMu.Lock()
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	writeMu.Unlock()

	session.Bootstrap()

	keepalive := time.NewTicker(h.keepAlive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("user_id", userID))
			return

		case n, ok := <-notifications:
			if !ok {
				return
			}
			session.HandleNotification(n)

		case <-keepalive.C:
			writeMu.Lock()
			_, err := fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// parseStreamSpec splits "id1:5,id2" into cursored and bare stream ids.
func parseStreamSpec(spec string) (map[string]uint64, []string, error) {
	cursors := make(map[string]uint64)
	var bare []string

	if spec == "" {
		return cursors, bare, nil
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, cursorStr, hasCursor := strings.Cut(part, ":")
		if err := middleware.ValidateStreamID(id); err != nil {
			return nil, nil, err
		}
		if !hasCursor {
			bare = append(bare, id)
			continue
		}
		cursor, err := strconv.ParseUint(cursorStr, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid cursor for stream %s", id)
		}
		cursors[id] = cursor
	}

	return cursors, bare, nil
}
