package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for cue rooms
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleCueConnection handles GET /ws/cue?room=<room>
func (h *WebSocketHandler) HandleCueConnection(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	if room == "" {
		room = models.DefaultRoom
	}

	// The upgrader already replied to the client on failure
	if err := h.connectionManager.UpgradeConnection(w, r, room); err != nil {
		log.Error().Err(err).Str("room", room).Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns open connection counts per room
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.ConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/cue", h.HandleCueConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
