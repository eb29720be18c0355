package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/assistant-core/internal/model"
)

// TurnStore persists conversation turns, keyed by session id and ordinal.
type TurnStore struct {
	kv jetstream.KeyValue
}

// NewTurnStore creates a turn store over a KV bucket.
func NewTurnStore(kv jetstream.KeyValue) *TurnStore {
	return &TurnStore{kv: kv}
}

func turnKey(sessionID string, ordinal int) string {
	return fmt.Sprintf("turn.%s.%06d", sessionID, ordinal)
}

// PutTurn stores a turn at its ordinal position.
func (s *TurnStore) PutTurn(ctx context.Context, turn *model.ConversationTurn) error {
	es := EntityStore{kv: s.kv}
	return es.put(ctx, turnKey(turn.SessionID, turn.Ordinal), turn)
}

// GetTurn retrieves one turn by session and ordinal.
func (s *TurnStore) GetTurn(ctx context.Context, sessionID string, ordinal int) (*model.ConversationTurn, error) {
	es := EntityStore{kv: s.kv}
	var turn model.ConversationTurn
	if err := es.get(ctx, turnKey(sessionID, ordinal), &turn); err != nil {
		return nil, err
	}
	return &turn, nil
}

// TurnsBefore returns all turns of a session with ordinal < before, ascending.
// Pass a negative before to fetch every turn.
func (s *TurnStore) TurnsBefore(ctx context.Context, sessionID string, before int) ([]model.ConversationTurn, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	prefix := fmt.Sprintf("turn.%s.", sessionID)
	es := EntityStore{kv: s.kv}

	var turns []model.ConversationTurn
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var turn model.ConversationTurn
		if err := es.get(ctx, key, &turn); err != nil {
			continue
		}
		if before >= 0 && turn.Ordinal >= before {
			continue
		}
		turns = append(turns, turn)
	}

	sort.Slice(turns, func(i, j int) bool { return turns[i].Ordinal < turns[j].Ordinal })
	return turns, nil
}

// SetFinal writes the accumulated content and reasoning onto a turn at the
// end of a generation episode.
func (s *TurnStore) SetFinal(ctx context.Context, sessionID string, ordinal int, content, reasoning string) error {
	turn, err := s.GetTurn(ctx, sessionID, ordinal)
	if err != nil {
		return err
	}

	turn.Content = &content
	if reasoning != "" {
		turn.Reasoning = &reasoning
	}
	turn.UpdatedAt = time.Now().UTC()

	return s.PutTurn(ctx, turn)
}
