package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go-recruiter/internal/turn"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /ws/chat: every text frame {userId, message} is one turn, answered
// with {reply, state} or {error}.
func wsChatHandler(svc *chatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			svc.logger.Warn("WebSocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		ctx := c.Request.Context()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					svc.logger.Debug("WebSocket closed", zap.Error(err))
				}
				return
			}

			var req ChatRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				if err := conn.WriteJSON(map[string]string{"error": "invalid JSON"}); err != nil {
					return
				}
				continue
			}

			res, err := svc.run(ctx, req)
			if err != nil {
				if statusFor(err) == http.StatusInternalServerError {
					svc.logger.Error("turn failed", zap.String("user_id", req.UserID), zap.Error(err))
				}
				if err := conn.WriteJSON(map[string]string{"error": turn.UserFacingError(err)}); err != nil {
					return
				}
				continue
			}
			if err := conn.WriteJSON(ChatResponse{Reply: res.Reply, State: res.State}); err != nil {
				return
			}
		}
	}
}
