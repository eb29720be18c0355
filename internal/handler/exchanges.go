package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-core/internal/middleware"
	"github.com/capitalize-ai/assistant-core/internal/model"
	"github.com/capitalize-ai/assistant-core/internal/orchestrator"
	"github.com/capitalize-ai/assistant-core/pkg/logger"
)

// episodeTimeout bounds a detached episode run.
const episodeTimeout = 10 * time.Minute

// ExchangeHandler triggers and cancels generation episodes.
type ExchangeHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *logger.Logger
}

// NewExchangeHandler creates a new exchange handler.
func NewExchangeHandler(orch *orchestrator.Orchestrator, log *logger.Logger) *ExchangeHandler {
	return &ExchangeHandler{orchestrator: orch, logger: log}
}

// Run handles POST /api/v1/sessions/{id}/exchanges
// Creates the placeholder exchange and starts the episode asynchronously;
// callers follow progress through the event stream named by stream_id.
func (h *ExchangeHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.RunExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ContextKind == "" || req.ContextID == "" {
		writeError(w, http.StatusBadRequest, "context_kind and context_id are required")
		return
	}

	exchange, err := h.orchestrator.PrepareExchange(ctx,
		sessionID,
		middleware.GetTenantID(ctx),
		middleware.GetUserID(ctx),
		middleware.GetWorkspaceID(ctx),
	)
	if err != nil {
		h.logger.Error("failed to prepare exchange",
			zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create exchange")
		return
	}

	episode := orchestrator.EpisodeRequest{
		SessionID:           sessionID,
		ExchangeID:          exchange.ID,
		Model:               req.Model,
		ContextKind:         req.ContextKind,
		ContextID:           req.ContextID,
		SecondaryContextIDs: req.SecondaryContextIDs,
		ToolFilter:          req.ToolFilter,
		MaxRounds:           req.MaxRounds,
		Effort:              req.Effort,
	}

	// The episode outlives this request; progress and failures surface as
	// events on the exchange's stream.
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), episodeTimeout)
		defer cancel()
		if err := h.orchestrator.RunEpisode(runCtx, episode); err != nil {
			h.logger.Warn("episode ended with error",
				zap.String("exchange_id", exchange.ID), zap.Error(err))
		}
	}()

	w.Header().Set("X-Stream-URL", "/api/v1/streams/"+exchange.ID+"/events")
	writeJSON(w, http.StatusAccepted, &model.RunExchangeResponse{
		ExchangeID: exchange.ID,
		StreamID:   exchange.ID,
	})
}

// Cancel handles DELETE /api/v1/exchanges/{id}
func (h *ExchangeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	exchangeID := chi.URLParam(r, "id")
	if err := middleware.ValidateStreamID(exchangeID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.orchestrator.Cancel(exchangeID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
