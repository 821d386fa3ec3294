package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"go-recruiter/internal/session"
	"go-recruiter/internal/turn"
)

// lockWait bounds how long a request waits behind another turn of the same user.
const lockWait = 30 * time.Second

// TurnProcessor runs one conversational turn.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, userID, message string) (turn.Result, error)
}

// ChatRequest is the inbound message body for both HTTP and WebSocket.
type ChatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// ChatResponse is returned for a completed turn.
type ChatResponse struct {
	Reply string        `json:"reply"`
	State session.State `json:"state"`
}

// chatService holds the per-user lock for the duration of a turn.
type chatService struct {
	proc   TurnProcessor
	locker session.Locker
	logger *zap.Logger
}

func (s *chatService) run(ctx context.Context, req ChatRequest) (turn.Result, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		return turn.Result{}, turn.ErrInvalidInput
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, req.UserID)
	if err != nil {
		return turn.Result{}, fmt.Errorf("lock user %s: %w", req.UserID, err)
	}
	defer unlock()

	return s.proc.ProcessTurn(ctx, req.UserID, req.Message)
}

// statusFor maps a turn error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, turn.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// POST /chat and POST /
func chatHandler(svc *chatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		res, err := svc.run(c.Request.Context(), req)
		if err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				svc.logger.Error("turn failed", zap.String("user_id", req.UserID), zap.Error(err))
			}
			c.JSON(statusFor(err), gin.H{"error": turn.UserFacingError(err)})
			return
		}
		c.JSON(http.StatusOK, ChatResponse{Reply: res.Reply, State: res.State})
	}
}
