// Package eventlog implements the durable, append-only stream event store.
//
// Events are persisted in a NATS JetStream stream, one subject per stream id.
// Sequence numbers are dense per stream and assigned by the log itself, not by
// JetStream: the orchestrator guarantees a single logical writer per stream
// id, and the log guards each publish with an expected-last-subject-sequence
// check so a misbehaving second writer fails loudly instead of forking the
// sequence.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-core/internal/model"
	natsclient "github.com/capitalize-ai/assistant-core/internal/nats"
	"github.com/capitalize-ai/assistant-core/pkg/logger"
	"github.com/capitalize-ai/assistant-core/pkg/metrics"
)

const (
	// StreamName is the JetStream stream holding all generation events.
	StreamName = "GENERATION_EVENTS"

	// SubjectPrefix is the prefix for all event subjects.
	SubjectPrefix = "events"

	// DefaultReadLimit bounds a single catch-up read.
	DefaultReadLimit = 2000
)

// streamState tracks the writer-side view of one stream id.
type streamState struct {
	mu sync.Mutex

	// next dense sequence to assign; 0 means not yet recovered.
	next uint64

	// lastJS is the JetStream subject sequence of the last append, used as
	// the optimistic concurrency guard on the next publish.
	lastJS uint64
}

// Log is the append-only event store.
type Log struct {
	client *natsclient.Client
	logger *logger.Logger

	mu      sync.Mutex
	streams map[string]*streamState
}

// New creates an event log over an established NATS client.
func New(client *natsclient.Client, log *logger.Logger) *Log {
	return &Log{
		client:  client,
		logger:  log,
		streams: make(map[string]*streamState),
	}
}

// EventSubject returns the subject events for a stream are published on.
func EventSubject(streamID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, streamID)
}

// EnsureStream ensures the events stream exists with proper configuration.
func (l *Log) EnsureStream(ctx context.Context) error {
	js := l.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    50 * 1024 * 1024 * 1024, // 50GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Assistant generation events, one subject per stream id",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

func (l *Log) state(streamID string) *streamState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.streams[streamID]
	if !ok {
		st = &streamState{}
		l.streams[streamID] = st
	}
	return st
}

// recover initializes the writer state for a stream id from the last durable
// event, if any. Caller holds st.mu.
func (l *Log) recover(ctx context.Context, streamID string, st *streamState) error {
	stream, err := l.client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	raw, err := stream.GetLastMsgForSubject(ctx, EventSubject(streamID))
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			st.next = 1
			st.lastJS = 0
			return nil
		}
		return fmt.Errorf("failed to read last event: %w", err)
	}

	var last model.StreamEvent
	if err := json.Unmarshal(raw.Data, &last); err != nil {
		return fmt.Errorf("failed to decode last event: %w", err)
	}

	st.next = last.Sequence + 1
	st.lastJS = raw.Sequence
	return nil
}

// Append writes one event durably and returns the assigned sequence. A failed
// append invalidates the cached writer state so the next attempt re-recovers
// from storage; it is never retried here because a silent retry could race a
// duplicate sequence assignment.
func (l *Log) Append(ctx context.Context, streamID string, eventType model.EventType, data json.RawMessage, relatedExchangeID string) (uint64, error) {
	st := l.state(streamID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.next == 0 {
		if err := l.recover(ctx, streamID, st); err != nil {
			return 0, err
		}
	}

	event := model.StreamEvent{
		StreamID:          streamID,
		Sequence:          st.next,
		Type:              eventType,
		Data:              data,
		RelatedExchangeID: relatedExchangeID,
		CreatedAt:         time.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := l.client.JetStream().Publish(ctx, EventSubject(streamID), body,
		jetstream.WithExpectLastSequencePerSubject(st.lastJS),
	)
	if err != nil {
		st.next = 0 // force re-recovery on next append
		return 0, fmt.Errorf("failed to append event: %w", err)
	}

	seq := st.next
	st.next++
	st.lastJS = ack.Sequence

	metrics.EventsAppended.WithLabelValues(string(eventType)).Inc()
	return seq, nil
}

// Read returns events with sequence > sinceSequence for a stream, ascending,
// capped at limit. hasMore reports whether the cap was hit.
func (l *Log) Read(ctx context.Context, streamID string, sinceSequence uint64, limit int) ([]model.StreamEvent, bool, error) {
	if limit <= 0 || limit > DefaultReadLimit {
		limit = DefaultReadLimit
	}

	js := l.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     EventSubject(streamID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	metrics.CatchupReads.Inc()

	var events []model.StreamEvent
	hasMore := false

	for len(events) < limit {
		batchSize := limit - len(events) + 1
		batch, err := consumer.Fetch(batchSize, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, false, fmt.Errorf("failed to fetch events: %w", err)
		}

		got := 0
		for msg := range batch.Messages() {
			got++
			var event model.StreamEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				l.logger.Warn("skipping undecodable event",
					zap.String("stream_id", streamID), zap.Error(err))
				continue
			}
			if event.Sequence <= sinceSequence {
				continue
			}
			if len(events) == limit {
				hasMore = true
				break
			}
			events = append(events, event)
		}

		if batch.Error() != nil && !errors.Is(batch.Error(), context.DeadlineExceeded) {
			return nil, false, fmt.Errorf("batch error: %w", batch.Error())
		}

		if got < batchSize || hasMore {
			break
		}
	}

	return events, hasMore, nil
}

// ListActiveStreams returns stream ids with at least one event written within
// the past sinceMinutes, capped at limit. Discovery aid for dashboards, not on
// the generation hot path.
func (l *Log) ListActiveStreams(ctx context.Context, sinceMinutes, limit int) ([]string, error) {
	if sinceMinutes <= 0 {
		sinceMinutes = 60
	}
	if limit <= 0 {
		limit = 100
	}

	stream, err := l.client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(fmt.Sprintf("%s.>", SubjectPrefix)))
	if err != nil {
		return nil, fmt.Errorf("failed to read stream info: %w", err)
	}

	cutoff := time.Now().Add(-time.Duration(sinceMinutes) * time.Minute)

	var ids []string
	for subject := range info.State.Subjects {
		raw, err := stream.GetLastMsgForSubject(ctx, subject)
		if err != nil {
			continue
		}
		if raw.Time.Before(cutoff) {
			continue
		}
		ids = append(ids, subject[len(SubjectPrefix)+1:])
		if len(ids) == limit {
			break
		}
	}

	return ids, nil
}
