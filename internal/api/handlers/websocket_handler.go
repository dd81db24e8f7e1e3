package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/isdelr/safeback/internal/services"
	ws "github.com/isdelr/safeback/internal/websocket"
)

// WebSocketHandler streams a workspace's audit feed to admins.
type WebSocketHandler struct {
	hub      *ws.Hub
	members  services.MemberServiceProvider
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocketHandler. Upgrades are accepted from
// allowedOrigins only; an empty list accepts same-origin requests only.
func NewWebSocketHandler(hub *ws.Hub, members services.MemberServiceProvider, allowedOrigins []string) *WebSocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &WebSocketHandler{
		hub:     hub,
		members: members,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Serve handles the WebSocket connection request.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")
	userID, ok := requireWorkspaceAdmin(w, r, h.members, workspaceID)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	client := ws.NewClient(h.hub, conn, workspaceID, userID)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleIncomingWSMessage)
		h.hub.Unregister(client)
	}()
}

// handleIncomingWSMessage processes messages received from a websocket client.
func (h *WebSocketHandler) handleIncomingWSMessage(client *ws.Client, message []byte) {
	var msg ws.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Error().Err(err).Bytes("message", message).Msg("Error decoding websocket message")
		return
	}

	switch msg.Action {
	case ws.ActionPing:
		data, _ := json.Marshal(ws.Message{Action: ws.ActionPong})
		trySend(client, data)
	default:
		log.Warn().Str("action", msg.Action).Msg("Unknown websocket action received")
		trySend(client, ws.NewErrorMessage("Unknown action: "+msg.Action))
	}
}

// trySend queues data without blocking the read loop on a slow client.
func trySend(client *ws.Client, data []byte) {
	defer func() {
		// Send may already be closed by the hub.
		_ = recover()
	}()
	select {
	case client.Send <- data:
	default:
	}
}
