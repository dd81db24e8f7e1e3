package websocket

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Actions sent to and received from clients.
const (
	ActionAuditCreated = "audit.created"
	ActionError        = "error"
	ActionPing         = "ping"
	ActionPong         = "pong"
)

// Message defines the structure for websocket messages.
type Message struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

// NewErrorMessage encodes an error message for a single client.
func NewErrorMessage(text string) []byte {
	return encode(Message{Action: ActionError, Payload: map[string]string{"error": text}})
}

func encode(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("action", msg.Action).Msg("Failed to encode websocket message")
		return nil
	}
	return data
}
