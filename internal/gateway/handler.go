package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler exposes the HTTP surface: identity bootstrap, the WebSocket
// upgrade, and a health probe.
type Handler struct {
	manager     *ConnectionManager
	coordinator Coordinator
	cookies     *CookieCodec
}

// NewHandler creates the HTTP handler set.
func NewHandler(manager *ConnectionManager, coordinator Coordinator, cookies *CookieCodec) *Handler {
	return &Handler{
		manager:     manager,
		coordinator: coordinator,
		cookies:     cookies,
	}
}

// RegisterRoutes attaches the gateway routes to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/client-id", h.HandleClientID)
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.HandleFunc("/health", h.HandleHealth)
}

// HandleClientID returns the caller's durable client id, minting and setting
// the signed cookie when the browser does not carry one yet.
func (h *Handler) HandleClientID(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.cookies.ReadClientID(r)
	if !ok {
		clientID = uuid.New().String()
		h.cookies.SetClientID(w, clientID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"clientId": clientID})
}

// HandleWebSocket upgrades the connection and joins the participant. The
// durable identity comes from the same signed cookie the bootstrap endpoint
// set; a missing or tampered cookie yields a fresh session-only id rather
// than an error.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.cookies.ReadClientID(r)
	if !ok {
		clientID = uuid.New().String()
	}

	conn, err := h.manager.Upgrade(w, r, clientID)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	// The request context dies with the handler; the join must not.
	h.coordinator.Join(context.Background(), conn.ID, clientID)
}

// HandleHealth is the liveness probe.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
