package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"relaychat/backend/internal/auth"
	"relaychat/backend/internal/chat"
	"relaychat/backend/internal/chathub"
	"relaychat/backend/internal/config"
	"relaychat/backend/internal/metrics"
	"relaychat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

const requestTimeout = 5 * time.Second

// ChatReader is the part of the chat service the REST edge calls directly.
// Writes that fan out go through the hub instead.
type ChatReader interface {
	CreateChat(ctx context.Context, creatorID string, req models.CreateChatRequest) (*models.Chat, error)
	GetChat(ctx context.Context, chatID, userID string) (*models.Chat, error)
	GetUserChats(ctx context.Context, userID string, p models.Pagination) (models.Page[models.ChatSummary], error)
	AddParticipants(ctx context.Context, actorID, chatID string, userIDs []string) (*models.Chat, error)
	GetChatMessages(ctx context.Context, chatID, userID string, p models.Pagination) (models.Page[models.Message], error)
}

// Pinger is a backend checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the dependencies of the HTTP and socket edge.
type Handler struct {
	Hub    *chathub.ManagerService
	Chats  ChatReader
	Auth   auth.Authenticator
	Checks map[string]Pinger

	// AuthTimeout bounds credential verification. Zero uses the default.
	AuthTimeout time.Duration
}

func NewHandler(hub *chathub.ManagerService, chats ChatReader, authn auth.Authenticator) *Handler {
	return &Handler{Hub: hub, Chats: chats, Auth: authn, Checks: map[string]Pinger{}}
}

func (h *Handler) authTimeout() time.Duration {
	if h.AuthTimeout > 0 {
		return h.AuthTimeout
	}
	return config.DefaultAuthTimeout
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", h.ServeWebSocket)

	api := r.Group("/", h.RequireAuth())
	api.POST("/chats", h.CreateChat)
	api.GET("/chats", h.ListChats)
	api.GET("/chats/:id", h.GetChat)
	api.POST("/chats/:id/participants", h.AddParticipants)
	api.GET("/chats/:id/presence", h.ChatPresence)
	api.GET("/chats/:id/messages", h.ListMessages)
	api.POST("/chats/:id/messages", h.SendMessage)
	api.PATCH("/messages/:id", h.EditMessage)
	api.DELETE("/messages/:id", h.DeleteMessage)
	api.POST("/messages/:id/read", h.MarkRead)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrEditWindowExpired):
		return http.StatusConflict
	case errors.Is(err, chathub.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("ERROR: [api] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Healthz pings every registered backend.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	report := gin.H{}
	for name, p := range h.Checks {
		if err := p.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	c.JSON(status, report)
}
