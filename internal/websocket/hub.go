package websocket

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type workspaceMessage struct {
	workspaceID string
	data        []byte
}

// Hub maintains the set of active clients and fans audit messages out to the
// clients subscribed to a workspace.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Messages addressed to one workspace.
	broadcast chan workspaceMessage

	// A map of workspace IDs to a set of clients subscribed to it.
	subscriptions map[string]map[*Client]bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan workspaceMessage, 256),
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		done:          make(chan struct{}),
	}
}

// Run starts the Hub's message processing loop. All map access happens here.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.addSubscription(client, client.WorkspaceID)
			log.Info().Int("total_clients", len(h.clients)).Str("workspace_id", client.WorkspaceID).Msg("Client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				log.Info().Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case msg := <-h.broadcast:
			for client := range h.subscriptions[msg.workspaceID] {
				select {
				case client.Send <- msg.data:
				default:
					// Slow consumer.
					h.drop(client)
				}
			}
		}
	}
}

// Stop ends the Run loop and closes every client's send channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register subscribes client to its workspace. It reports false once the hub has
// stopped, in which case the caller owns the connection and must close it.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client. It returns immediately once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastTo queues a message for all clients subscribed to a workspace. It never
// blocks; when the hub is backed up the message is dropped.
func (h *Hub) BroadcastTo(workspaceID string, message []byte) {
	select {
	case h.broadcast <- workspaceMessage{workspaceID: workspaceID, data: message}:
	default:
		log.Warn().Str("workspace_id", workspaceID).Msg("Websocket hub backlog full, dropping message")
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	h.removeSubscription(client)
}

func (h *Hub) addSubscription(client *Client, workspaceID string) {
	if h.subscriptions[workspaceID] == nil {
		h.subscriptions[workspaceID] = make(map[*Client]bool)
	}
	h.subscriptions[workspaceID][client] = true
}

func (h *Hub) removeSubscription(client *Client) {
	subs, ok := h.subscriptions[client.WorkspaceID]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.subscriptions, client.WorkspaceID)
	}
}
