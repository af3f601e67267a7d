package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/magefree/turnkit/internal/repository"
	"go.uber.org/zap"
)

const historyTimeout = 2 * time.Second

// HistorySource is the read side of the battle store.
type HistorySource interface {
	RecentBattles(ctx context.Context, limit int) ([]repository.ResultRecord, error)
	Turns(ctx context.Context, battleID string) ([]repository.TurnRecord, error)
}

// SetHistory makes the hub greet each new spectator with a "history" message
// listing up to limit finished battles. It must be called before the hub
// serves any request.
func (h *Hub) SetHistory(src HistorySource, limit int) {
	h.history = src
	h.historyLimit = limit
}

// historyMessage encodes the greeting, or returns nil when there is nothing
// to send.
func (h *Hub) historyMessage(ctx context.Context) []byte {
	if h.history == nil || h.historyLimit <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	battles, err := h.history.RecentBattles(ctx, h.historyLimit)
	if err != nil {
		h.logger.Warn("failed to load battle history", zap.Error(err))
		return nil
	}
	if battles == nil {
		battles = []repository.ResultRecord{}
	}
	data, err := json.Marshal(WSMessage{Type: "history", Data: battles})
	if err != nil {
		h.logger.Error("failed to encode battle history", zap.Error(err))
		return nil
	}
	return data
}

// HistoryHandler serves battle history as JSON:
//
//	GET /battles             recent finished battles, newest first
//	GET /battles/{id}/turns  the turns of one battle in order
type HistoryHandler struct {
	src    HistorySource
	limit  int
	logger *zap.Logger
}

// NewHistoryHandler creates a handler listing up to limit battles.
func NewHistoryHandler(src HistorySource, limit int, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{src: src, limit: limit, logger: logger}
}

// Register adds the history routes to mux.
func (hh *HistoryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /battles", hh.handleBattles)
	mux.HandleFunc("GET /battles/{id}/turns", hh.handleTurns)
}

func (hh *HistoryHandler) handleBattles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()

	battles, err := hh.src.RecentBattles(ctx, hh.limit)
	if err != nil {
		hh.logger.Error("failed to list battles", zap.Error(err))
		http.Error(w, "failed to list battles", http.StatusInternalServerError)
		return
	}
	if battles == nil {
		battles = []repository.ResultRecord{}
	}
	hh.writeJSON(w, battles)
}

func (hh *HistoryHandler) handleTurns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()

	turns, err := hh.src.Turns(ctx, id)
	if err != nil {
		hh.logger.Error("failed to list turns", zap.String("battle_id", id), zap.Error(err))
		http.Error(w, "failed to list turns", http.StatusInternalServerError)
		return
	}
	if len(turns) == 0 {
		http.NotFound(w, r)
		return
	}
	hh.writeJSON(w, turns)
}

func (hh *HistoryHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hh.logger.Warn("failed to write response", zap.Error(err))
	}
}
