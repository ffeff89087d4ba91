package communication

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the communication log
type Handler struct {
	log    *Log
	logger *zap.Logger
}

// NewHandler creates a new communication handler
func NewHandler(log *Log, logger *zap.Logger) *Handler {
	return &Handler{log: log, logger: logger}
}

// RegisterRoutes registers communication routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/verifications/:id/messages", h.listMessages)
	router.POST("/verifications/:id/messages", h.postUserMessage)
	router.POST("/messages/:id/delivery", h.advanceDelivery)
	router.GET("/messages/:id", h.getSystemMessage)
}

// listMessages handles GET /api/v1/verifications/:id/messages
func (h *Handler) listMessages(c *gin.Context) {
	processID, ok := h.pathID(c)
	if !ok {
		return
	}

	correspondence, err := h.log.ListForProcess(c.Request.Context(), processID)
	if err != nil {
		h.logger.Error("Failed to list messages",
			zap.String("process_id", processID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, correspondence)
}

type postMessageRequest struct {
	UserID      uuid.UUID  `json:"user_id" binding:"required"`
	AdminID     *uuid.UUID `json:"admin_id"`
	Content     string     `json:"content" binding:"required"`
	IsFromAdmin bool       `json:"is_from_admin"`
}

// postUserMessage handles POST /api/v1/verifications/:id/messages
func (h *Handler) postUserMessage(c *gin.Context) {
	processID, ok := h.pathID(c)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := &UserMessage{
		ProcessID:   processID,
		UserID:      req.UserID,
		AdminID:     req.AdminID,
		Content:     req.Content,
		IsFromAdmin: req.IsFromAdmin,
	}
	if err := h.log.RecordUserMessage(c.Request.Context(), msg); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrProcessNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

type deliveryCallbackRequest struct {
	Status DeliveryStatus `json:"status" binding:"required"`
}

// advanceDelivery handles POST /api/v1/messages/:id/delivery. Called by the
// delivery provider's status callbacks, not by end users.
func (h *Handler) advanceDelivery(c *gin.Context) {
	messageID, ok := h.pathID(c)
	if !ok {
		return
	}

	var req deliveryCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.log.AdvanceDeliveryStatus(c.Request.Context(), messageID, req.Status)
	if err != nil {
		var invalid *InvalidDeliveryTransitionError
		switch {
		case errors.As(err, &invalid):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Failed to advance delivery status",
				zap.String("message_id", messageID.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, msg)
}

// getSystemMessage handles GET /api/v1/messages/:id
func (h *Handler) getSystemMessage(c *gin.Context) {
	messageID, ok := h.pathID(c)
	if !ok {
		return
	}

	msg, err := h.log.GetSystemMessage(c.Request.Context(), messageID)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to get message",
			zap.String("message_id", messageID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, msg)
}

func (h *Handler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ID"})
		return uuid.Nil, false
	}
	return id, true
}
