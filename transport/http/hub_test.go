package http

import (
	"testing"
	"time"

	"github.com/apolo-dex/smartlink/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcast_DropsStalledClient(t *testing.T) {
	hub := NewHub(nil)

	stalled := &hubClient{send: make(chan []byte)}
	reading := &hubClient{send: make(chan []byte, sendBuffer)}
	hub.register(stalled)
	hub.register(reading)
	require.Equal(t, 2, hub.Clients())

	done := make(chan struct{})
	go func() {
		hub.Broadcast(hubMessage{Type: "event", Event: &core.Event{Topic: core.TopicSessionInvalidated}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a client that is not reading")
	}

	assert.Equal(t, 1, hub.Clients())
	_, open := <-stalled.send
	assert.False(t, open)
	assert.Len(t, reading.send, 1)

	// unregistering a dropped client is a no-op
	hub.unregister(stalled)
	hub.unregister(reading)
	assert.Zero(t, hub.Clients())
}
