package notifications

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishPostEvent(context.Background(), Event{Type: EventReaction, PostID: 1}))
	assert.NoError(t, n.StartPostSubscriber(context.Background(), func(string, string) {}))
}

func TestPostChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		postID   uint
		expected string
	}{
		{1, "post:activity:1"},
		{100, "post:activity:100"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, PostChannel(tt.postID))
	}
}

func TestHub_StartWiringDeliversEvents(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	n := NewNotifier(rdb)
	require.NoError(t, hub.StartWiring(ctx, n))

	watcher, err := hub.Register(42, 0, nil)
	require.NoError(t, err)
	bystander, err := hub.Register(43, 0, nil)
	require.NoError(t, err)

	require.NoError(t, n.PublishPostEvent(context.Background(), Event{
		Type:    EventComment,
		PostID:  42,
		UserID:  7,
		Payload: map[string]string{"content": "hi"},
	}))

	var got []byte
	assert.Eventually(t, func() bool {
		select {
		case got = <-watcher.Send:
			return true
		default:
			return false
		}
	}, testEventuallyTimeout, testPollInterval)

	var ev Event
	require.NoError(t, json.Unmarshal(got, &ev))
	assert.Equal(t, EventComment, ev.Type)
	assert.Equal(t, uint(42), ev.PostID)
	assert.Equal(t, uint(7), ev.UserID)
	assert.False(t, ev.At.IsZero())
	assert.Empty(t, bystander.Send)

	_ = hub.Shutdown(context.Background())
}
