package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/capitalize-ai/assistant-core/internal/model"
)

// Appender is the event log write path.
type Appender interface {
	Append(ctx context.Context, streamID string, eventType model.EventType, data json.RawMessage, relatedExchangeID string) (uint64, error)
}

// Publisher is the change notifier write path.
type Publisher interface {
	Publish(streamID string, sequence uint64, eventType model.EventType)
}

// emitter writes one episode's events: durable append first, then the
// best-effort notification. Append errors propagate and end the episode;
// notification errors never do.
type emitter struct {
	appender   Appender
	publisher  Publisher
	streamID   string
	exchangeID string
}

func (e *emitter) emit(ctx context.Context, eventType model.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	seq, err := e.appender.Append(ctx, e.streamID, eventType, data, e.exchangeID)
	if err != nil {
		return err
	}
	e.publisher.Publish(e.streamID, seq, eventType)
	return nil
}

func (e *emitter) status(ctx context.Context, phase, detail string) error {
	return e.emit(ctx, model.EventTypeStatus, model.StatusData{Phase: phase, Detail: detail})
}

func (e *emitter) errorEvent(ctx context.Context, code, message string) {
	// The append context may already be cancelled when reporting a
	// cancellation; fall back to a detached context so the error event is
	// still durably recorded.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	_ = e.emit(ctx, model.EventTypeError, model.ErrorData{Code: code, Message: message})
}
