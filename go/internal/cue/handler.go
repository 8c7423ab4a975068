package cue

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 4 << 10

// WriteCueRequest is the POST /cue body.
type WriteCueRequest struct {
	Room   string        `json:"room"`
	CueKey models.CueKey `json:"cueKey"`
}

// Handler serves the cue polling endpoint.
type Handler struct {
	app *App
}

// NewHandler creates a new cue handler
func NewHandler(app *App) *Handler {
	return &Handler{
		app: app,
	}
}

// RegisterRoutes registers the cue endpoint under both of its paths.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/cue", h)
	mux.Handle("/api/cue", h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]bool{"ok": false})
	}
}

// handleGet handles GET /cue?room=<room>&since=<seq>
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	room := query.Get("room")

	// An unparsable since behaves like 0, which never matches a live seq.
	since, err := strconv.ParseInt(query.Get("since"), 10, 64)
	if err != nil {
		since = 0
	}

	rec := h.app.Poll(r.Context(), room, since)
	if rec == nil {
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, rec)
}

// handlePost handles POST /cue with {room, cueKey}
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req WriteCueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid request body"})
		return
	}

	rec, err := h.app.Write(r.Context(), req.Room, req.CueKey)
	if err != nil {
		if errors.Is(err, ErrUnknownCueKey) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		log.Error().Err(err).Str("room", req.Room).Msg("failed to write cue")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
