package notifications

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func TestHub_BroadcastReachesOnlyThatPost(t *testing.T) {
	hub := NewHub()

	a, err := hub.Register(1, 10, nil)
	require.NoError(t, err)
	b, err := hub.Register(1, 0, nil)
	require.NoError(t, err)
	other, err := hub.Register(2, 10, nil)
	require.NoError(t, err)

	hub.Broadcast(1, []byte("hello"))

	assert.Equal(t, "hello", string(<-a.Send))
	assert.Equal(t, "hello", string(<-b.Send))
	assert.Empty(t, other.Send)
	assert.Equal(t, 2, hub.Watchers(1))

	_ = hub.Shutdown(context.Background())
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(3, 1, nil)
	require.NoError(t, err)

	hub.UnregisterClient(c)
	hub.UnregisterClient(c)

	assert.Equal(t, 0, hub.Watchers(3))
	_, open := <-c.Send
	assert.False(t, open)
}

func TestHub_PerPostLimit(t *testing.T) {
	hub := NewHub()
	for i := 0; i < maxConnsPerPost; i++ {
		_, err := hub.Register(4, uint(i), nil)
		require.NoError(t, err)
	}
	_, err := hub.Register(4, 9999, nil)
	assert.ErrorIs(t, err, ErrPostFull)

	_, err = hub.Register(5, 1, nil)
	assert.NoError(t, err)
}

func TestHub_RegisterAfterShutdown(t *testing.T) {
	hub := NewHub()
	require.NoError(t, hub.Shutdown(context.Background()))

	_, err := hub.Register(1, 1, nil)
	assert.ErrorIs(t, err, ErrServerFull)
}

func TestHub_ShutdownClosesThroughWritePump(t *testing.T) {
	hub := NewHub()

	app := fiber.New()
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		client, err := hub.Register(7, 0, conn)
		if err != nil {
			return
		}
		go client.WritePump()
		client.ReadPump()
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, _, err := gws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return hub.Watchers(7) == 1 }, testEventuallyTimeout, testPollInterval)

	hub.Broadcast(7, []byte(`{"type":"reaction"}`))
	require.NoError(t, hub.Shutdown(context.Background()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err, "queued events are flushed before the close frame")
	assert.JSONEq(t, `{"type":"reaction"}`, string(msg))

	_, _, err = conn.ReadMessage()
	var closeErr *gws.CloseError
	require.True(t, errors.As(err, &closeErr), "expected a close frame, got %v", err)
	assert.Equal(t, gws.CloseGoingAway, closeErr.Code)
	assert.Equal(t, 0, hub.Watchers(7))
}

func TestHub_CloseFrame(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), hub.closeFrame())

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Equal(t, websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"), hub.closeFrame())
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(6, 1, nil)
	require.NoError(t, err)

	for i := 0; i < cap(c.Send)+5; i++ {
		c.TrySend([]byte("x"))
	}
	assert.Len(t, c.Send, cap(c.Send))

	hub.UnregisterClient(c)
	assert.NotPanics(t, func() { c.TrySend([]byte("late")) })
}
