package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_BroadcastToWorkspace(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	a := NewClient(hub, nil, "ws-a", "u1")
	b := NewClient(hub, nil, "ws-b", "u2")
	hub.Register(a)
	hub.Register(b)

	hub.BroadcastTo("ws-a", []byte("hello a"))
	hub.BroadcastTo("ws-b", []byte("hello b"))

	assert.Equal(t, []byte("hello a"), receive(t, a))
	assert.Equal(t, []byte("hello b"), receive(t, b))

	select {
	case msg := <-a.Send:
		t.Fatalf("unexpected message for ws-a: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	c := NewClient(hub, nil, "ws-a", "u1")
	hub.Register(c)
	hub.Unregister(c)

	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("send channel was not closed")
	}

	// Broadcasting to a workspace without subscribers is a no-op.
	hub.BroadcastTo("ws-a", []byte("nobody"))
}

func TestHub_RegisterAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Stop()
	hub.Stop()

	c := NewClient(hub, nil, "ws-a", "u1")
	done := make(chan bool, 1)
	go func() {
		ok := hub.Register(c)
		hub.Unregister(c)
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Register blocked on a stopped hub")
	}
}

func TestNewErrorMessage(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal(NewErrorMessage("boom"), &msg))
	assert.Equal(t, ActionError, msg.Action)
	assert.Equal(t, map[string]interface{}{"error": "boom"}, msg.Payload)
}
