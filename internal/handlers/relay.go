package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"relay-service/internal/conversation"
	"relay-service/internal/models"
	"relay-service/internal/repositories"
)

// Deliverer fans a persisted message out to live sessions. Push failures are
// handled inside the deliverer and never reach these handlers.
type Deliverer interface {
	DeliverMessage(msg models.Message)
	DeliverDeletion(msg models.Message)
}

// RelayHandler manages the message relay endpoints.
type RelayHandler struct {
	messages   repositories.MessageRepository
	aggregator *conversation.Aggregator
	deliverer  Deliverer
}

// NewRelayHandler builds a RelayHandler.
func NewRelayHandler(messages repositories.MessageRepository, aggregator *conversation.Aggregator, deliverer Deliverer) *RelayHandler {
	return &RelayHandler{
		messages:   messages,
		aggregator: aggregator,
		deliverer:  deliverer,
	}
}

type submitRequest struct {
	SenderID    string              `json:"sender_id" binding:"required"`
	ReceiverID  string              `json:"receiver_id" binding:"required"`
	Body        string              `json:"body"`
	Attachments []models.Attachment `json:"attachments"`
}

// SubmitMessage persists a message and pushes it to both parties' live
// sessions. A submit that fails validation or storage leaves no trace; a
// submit whose push fails is still durable and visible on the next fetch.
func (h *RelayHandler) SubmitMessage(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.Append(c.Request.Context(), req.SenderID, req.ReceiverID, req.Body, req.Attachments)
	if err != nil {
		var validationErr *repositories.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Reason})
			return
		}
		c.JSON(storeStatus(err), gin.H{"error": "failed to store message"})
		return
	}

	h.deliverer.DeliverMessage(msg)
	c.JSON(http.StatusCreated, msg)
}

// ListConversations returns one summary row per counterpart for the user,
// most recently active conversation first.
func (h *RelayHandler) ListConversations(c *gin.Context) {
	userID := c.Param("user_id")

	summaries, err := h.aggregator.Summaries(c.Request.Context(), userID)
	if err != nil {
		c.JSON(storeStatus(err), gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GetTranscript returns the full message sequence between two users,
// oldest first.
func (h *RelayHandler) GetTranscript(c *gin.Context) {
	userID := c.Param("user_id")
	peerID := c.Param("peer_id")

	msgs, err := h.messages.FindBetween(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(storeStatus(err), gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead flips the counterpart's unread messages to read. Idempotent: a
// repeat call reports zero updates.
func (h *RelayHandler) MarkRead(c *gin.Context) {
	userID := c.Param("user_id")
	peerID := c.Param("peer_id")

	updated, err := h.messages.MarkRead(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(storeStatus(err), gin.H{"error": "failed to mark messages as read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// DeleteMessage removes a single message and notifies live sessions.
func (h *RelayHandler) DeleteMessage(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	msg, err := h.messages.DeleteByID(c.Request.Context(), messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(storeStatus(err), gin.H{"error": "could not delete message"})
		return
	}

	h.deliverer.DeliverDeletion(msg)
	c.Status(http.StatusNoContent)
}

// DeleteConversation removes every message between two users.
func (h *RelayHandler) DeleteConversation(c *gin.Context) {
	userID := c.Param("user_id")
	peerID := c.Param("peer_id")

	if err := h.messages.DeleteBetween(c.Request.Context(), userID, peerID); err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(storeStatus(err), gin.H{"error": "could not delete conversation"})
		return
	}

	c.Status(http.StatusNoContent)
}

// storeStatus maps storage failures to retryable 503s, everything else to 500.
func storeStatus(err error) int {
	if errors.Is(err, repositories.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
