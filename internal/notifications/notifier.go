// Package notifications provides real-time notification delivery and management.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"devpress/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const postActivityPattern = "post:activity:*"

// Event types published on a post's activity channel.
const (
	EventReaction    = "reaction"
	EventComment     = "comment"
	EventCommentLike = "comment_like"
	EventPostUpdated = "post_updated"
	EventPostDeleted = "post_deleted"
)

// Event is the JSON message delivered to activity subscribers.
type Event struct {
	Type    string      `json:"type"`
	PostID  uint        `json:"postId"`
	UserID  uint        `json:"userId,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// PostChannel is the Redis channel carrying activity for postID.
func PostChannel(postID uint) string {
	return fmt.Sprintf("post:activity:%d", postID)
}

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishPostEvent sends ev to every instance subscribed to the post channel.
func (n *Notifier) PublishPostEvent(ctx context.Context, ev Event) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return n.rdb.Publish(ctx, PostChannel(ev.PostID), payload).Err()
}

// StartPostSubscriber subscribes to every post activity channel and calls
// onMessage for each message until ctx is cancelled.
func (n *Notifier) StartPostSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, postActivityPattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", postActivityPattern, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in post subscriber",
								slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
