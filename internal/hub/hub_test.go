package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/peace-chat/internal/config"
	"github.com/weiawesome/peace-chat/internal/domain"
)

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{SendBuffer: 8}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(testConfig())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func addClient(t *testing.T, h *Hub, id, username string) *Client {
	t.Helper()
	c := NewClient(id, h, nil, h.Config())
	if username != "" {
		_, err := c.Apply(domain.JoinEvent(username))
		require.NoError(t, err)
	}
	h.Register(c)
	return c
}

func recv(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		return string(data)
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return ""
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s unexpectedly received %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_DeliverFilters(t *testing.T) {
	h := startHub(t)
	alice := addClient(t, h, "c1", "alice")
	bob := addClient(t, h, "c2", "Bob")
	anon := addClient(t, h, "c3", "")

	t.Run("all reaches anonymous sessions too", func(t *testing.T) {
		h.Deliver([]byte("x"), All())
		assert.Equal(t, "x", recv(t, alice))
		assert.Equal(t, "x", recv(t, bob))
		assert.Equal(t, "x", recv(t, anon))
	})

	t.Run("joined matches case-insensitively", func(t *testing.T) {
		h.Deliver([]byte("y"), Joined("bob"))
		assert.Equal(t, "y", recv(t, bob))
		assertSilent(t, alice)
		assertSilent(t, anon)
	})

	t.Run("except skips one connection", func(t *testing.T) {
		h.Deliver([]byte("z"), Except(All(), alice.ID))
		assert.Equal(t, "z", recv(t, bob))
		assert.Equal(t, "z", recv(t, anon))
		assertSilent(t, alice)
	})
}

func TestHub_DeliveryOrder(t *testing.T) {
	h := startHub(t)
	c := addClient(t, h, "c1", "alice")

	for _, s := range []string{"1", "2", "3", "4"} {
		h.Deliver([]byte(s), All())
	}
	for _, want := range []string{"1", "2", "3", "4"} {
		assert.Equal(t, want, recv(t, c))
	}
}

func TestHub_Broadcast(t *testing.T) {
	h := startHub(t)
	c := addClient(t, h, "c1", "alice")

	require.NoError(t, h.Broadcast(domain.NewOutbound(domain.MsgTypeSystemMessage, "hello"), All()))

	var env domain.Envelope
	require.NoError(t, json.Unmarshal([]byte(recv(t, c)), &env))
	assert.Equal(t, domain.MsgTypeSystemMessage, env.Type)
	assert.JSONEq(t, `"hello"`, string(env.Data))
}

func TestHub_SessionCount(t *testing.T) {
	h := startHub(t)
	first := addClient(t, h, "c1", "alice")
	addClient(t, h, "c2", "ALICE")
	addClient(t, h, "c3", "bob")
	addClient(t, h, "c4", "")

	assert.Eventually(t, func() bool { return h.ClientCount() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.SessionCount("alice"))

	_, err := first.Apply(domain.DisconnectEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, h.SessionCount("alice"), "disconnected sessions no longer count")

	h.Unregister(first)
	assert.Eventually(t, func() bool { return h.ClientCount() == 3 }, time.Second, 5*time.Millisecond)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h := startHub(t)
	c := addClient(t, h, "c1", "alice")
	h.Unregister(c)

	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}

	assert.NoError(t, c.SendMessage("late"), "sending to a closed client is a silent drop")
}

func TestHub_FullBufferDropsClient(t *testing.T) {
	h := startHub(t)
	c := addClient(t, h, "slow", "alice")

	for i := 0; i < testConfig().SendBuffer+1; i++ {
		h.Deliver([]byte("m"), All())
	}
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_StopClosesClients(t *testing.T) {
	h := NewHub(testConfig())
	go h.Run()
	c := addClient(t, h, "c1", "alice")

	h.Stop()
	for range c.Send {
	}
	h.Stop()

	// Calls after Stop return instead of blocking.
	h.Deliver([]byte("x"), All())
	h.Unregister(c)
}
