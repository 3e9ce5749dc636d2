package handler

import (
	"context"
	"net/http"

	"relaychat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type addParticipantsRequest struct {
	UserIDs []string `json:"userIds" binding:"required"`
}

// sendMessageRequest is the body of POST /chats/:id/messages. The chat id
// comes from the path.
type sendMessageRequest struct {
	Type      models.MessageType `json:"type"`
	Content   string             `json:"content"`
	FileID    *string            `json:"fileId"`
	ReplyToID *string            `json:"replyToId"`
	Encrypt   bool               `json:"encrypt"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func bindPage(c *gin.Context) (models.Pagination, bool) {
	var p models.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return p, false
	}
	return p, true
}

func (h *Handler) CreateChat(c *gin.Context) {
	var req models.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	created, err := h.Chats.CreateChat(ctx, identityFrom(c).UserID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListChats(c *gin.Context) {
	p, ok := bindPage(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	page, err := h.Chats.GetUserChats(ctx, identityFrom(c).UserID, p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) GetChat(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	found, err := h.Chats.GetChat(ctx, c.Param("id"), identityFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *Handler) AddParticipants(c *gin.Context) {
	var req addParticipantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	updated, err := h.Chats.AddParticipants(ctx, identityFrom(c).UserID, c.Param("id"), req.UserIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ChatPresence returns who is online and typing in a chat right now.
func (h *Handler) ChatPresence(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	presence, err := h.Hub.Presence(ctx, identityFrom(c).UserID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presence)
}

func (h *Handler) ListMessages(c *gin.Context) {
	p, ok := bindPage(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	page, err := h.Chats.GetChatMessages(ctx, c.Param("id"), identityFrom(c).UserID, p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// SendMessage stores a message and fans it out to the chat's live room, the
// same way a send_message socket intent does.
func (h *Handler) SendMessage(c *gin.Context) {
	var body sendMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := models.SendMessageRequest{
		ChatID:    c.Param("id"),
		Type:      body.Type,
		Content:   body.Content,
		FileID:    body.FileID,
		ReplyToID: body.ReplyToID,
		Encrypt:   body.Encrypt,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	msg, err := h.Hub.SendMessageAs(ctx, identityFrom(c).UserID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) EditMessage(c *gin.Context) {
	var body editMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	msg, err := h.Hub.EditMessageAs(ctx, identityFrom(c).UserID, c.Param("id"), body.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	msg, err := h.Hub.DeleteMessageAs(ctx, identityFrom(c).UserID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageDeletedPayload{MessageID: msg.ID, ChatID: msg.ChatID})
}

func (h *Handler) MarkRead(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	receipt, err := h.Hub.MarkReadAs(ctx, identityFrom(c).UserID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}
