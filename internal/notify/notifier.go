// Package notify implements the best-effort change notifier.
//
// Notifications are tiny wake-up signals published over core NATS (not
// JetStream): stream id, sequence and event type, never the event body. They
// are at-most-once and may be dropped or reordered; subscribers converge via
// catch-up reads against the event log, so total notification loss degrades
// latency, not correctness.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-core/internal/model"
	natsclient "github.com/capitalize-ai/assistant-core/internal/nats"
	"github.com/capitalize-ai/assistant-core/pkg/logger"
	"github.com/capitalize-ai/assistant-core/pkg/metrics"
)

// Subject is the core NATS subject notifications are broadcast on.
const Subject = "notify.events"

// subscriptionBuffer bounds the per-subscriber channel. A slow subscriber
// drops notifications rather than blocking the publisher; catch-up reads
// recover whatever was dropped.
const subscriptionBuffer = 256

// Notifier publishes and subscribes to event notifications.
type Notifier struct {
	client *natsclient.Client
	logger *logger.Logger
}

// New creates a notifier over an established NATS client.
func New(client *natsclient.Client, log *logger.Logger) *Notifier {
	return &Notifier{client: client, logger: log}
}

// Publish broadcasts a notification. Fire-and-forget: errors are logged and
// counted but never propagated, because delivery is best-effort by contract.
func (n *Notifier) Publish(streamID string, sequence uint64, eventType model.EventType) {
	body, err := json.Marshal(model.Notification{
		StreamID: streamID,
		Sequence: sequence,
		Type:     eventType,
	})
	if err != nil {
		n.logger.Error("failed to marshal notification", zap.Error(err))
		return
	}

	if err := n.client.Conn().Publish(Subject, body); err != nil {
		metrics.NotificationsDropped.Inc()
		n.logger.Warn("failed to publish notification",
			zap.String("stream_id", streamID),
			zap.Uint64("sequence", sequence),
			zap.Error(err))
		return
	}

	metrics.NotificationsPublished.Inc()
}

// Subscribe opens one logical subscription. The returned channel is closed
// when ctx is cancelled. Notifications that cannot be buffered are dropped.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan model.Notification, error) {
	ch := make(chan model.Notification, subscriptionBuffer)

	sub, err := n.client.Conn().Subscribe(Subject, func(msg *nats.Msg) {
		var notification model.Notification
		if err := json.Unmarshal(msg.Data, &notification); err != nil {
			n.logger.Warn("skipping undecodable notification", zap.Error(err))
			return
		}
		select {
		case ch <- notification:
		default:
			metrics.NotificationsDropped.Inc()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
		close(ch)
	}()

	return ch, nil
}
