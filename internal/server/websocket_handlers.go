package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"devpress/internal/middleware"
	"devpress/internal/models"
	"devpress/internal/notifications"
	"devpress/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	localWatchPostID  = "watchPostID"
	localWatchSummary = "watchSummary"
	localWatchUserID  = "watchUserID"
)

// WebSocketUpgrade validates the post and hands the request to the
// websocket handler. Plain HTTP requests get 426.
func (s *Server) WebSocketUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	summary, err := s.postService.Reactions(c.UserContext(), postID, viewerID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	c.Locals(localWatchPostID, postID)
	c.Locals(localWatchSummary, summary)
	c.Locals(localWatchUserID, viewerID(c))
	return c.Next()
}

// WatchPostHandler streams live activity for one post. The first frame is a
// snapshot of the reaction counts; every later frame is a notifications.Event.
// @Summary Watch post activity
// @Tags posts
// @Param id path int true "Post ID"
// @Success 101
// @Failure 426 {object} models.ErrorResponse
// @Router /ws/posts/{id} [get]
func (s *Server) WatchPostHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		postID, _ := conn.Locals(localWatchPostID).(uint)
		userID, _ := conn.Locals(localWatchUserID).(uint)
		summary, _ := conn.Locals(localWatchSummary).(*service.ReactionSummary)

		client, err := s.hub.Register(postID, userID, conn)
		if err != nil {
			reason := "unavailable"
			if errors.Is(err, notifications.ErrPostFull) {
				reason = "post_full"
			}
			middleware.Logger.Warn("websocket register rejected",
				slog.Uint64("post_id", uint64(postID)),
				slog.String("error", err.Error()),
			)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+reason+`"}`))
			_ = conn.Close()
			return
		}

		hello, err := json.Marshal(notifications.Event{
			Type:    "snapshot",
			PostID:  postID,
			UserID:  userID,
			Payload: summary,
			At:      time.Now().UTC(),
		})
		if err == nil {
			client.TrySend(hello)
		}

		go client.WritePump()
		client.ReadPump()
	})
}
