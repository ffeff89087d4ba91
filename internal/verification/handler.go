package verification

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for verification review operations
type Handler struct {
	engine          *Engine
	bulk            *BulkCoordinator
	logger          *zap.Logger
	defaultPageSize int
}

// NewHandler creates a new verification handler
func NewHandler(engine *Engine, bulk *BulkCoordinator, defaultPageSize int, logger *zap.Logger) *Handler {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	return &Handler{engine: engine, bulk: bulk, defaultPageSize: defaultPageSize, logger: logger}
}

// RegisterRoutes registers verification routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	v := router.Group("/verifications")
	{
		v.POST("", h.createProcess)
		v.GET("", h.listProcesses)
		v.GET("/:id", h.getProcess)
		v.POST("/:id/start-review", h.startReview)
		v.POST("/:id/approve", h.approve)
		v.POST("/:id/reject", h.reject)
		v.POST("/:id/request-info", h.requestMoreInfo)
		v.POST("/:id/resubmit", h.resubmit)
		v.POST("/:id/assign", h.assignReviewer)
		v.POST("/:id/risk/reassess", h.reassessRisk)
		v.POST("/bulk", h.bulkAction)
	}
}

// processResponse is the authoritative snapshot returned by every successful
// command so the caller's next command is pre-armed with the new version.
type processResponse struct {
	*Process
	IsOverdue bool `json:"is_overdue"`
}

func snapshot(p *Process) processResponse {
	return processResponse{Process: p, IsOverdue: p.IsOverdue(time.Now())}
}

type createProcessRequest struct {
	UserID   uuid.UUID       `json:"user_id" binding:"required"`
	UserType UserType        `json:"user_type" binding:"required"`
	Request  RequestSnapshot `json:"request"`
	Priority Priority        `json:"priority"`
}

// createProcess handles POST /api/v1/verifications
func (h *Handler) createProcess(c *gin.Context) {
	var req createProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.engine.CreateProcess(c.Request.Context(), CreateInput{
		UserID:   req.UserID,
		UserType: req.UserType,
		Request:  req.Request,
		Priority: req.Priority,
		Actor:    h.actor(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, snapshot(p))
}

// listProcesses handles GET /api/v1/verifications
func (h *Handler) listProcesses(c *gin.Context) {
	filters := &ProcessFilters{
		Page:     h.getIntParam(c, "page", 1),
		PageSize: h.getIntParam(c, "page_size", h.defaultPageSize),
	}

	// Parse optional filters
	if status := c.Query("status"); status != "" {
		s := Status(status)
		filters.Status = &s
	}
	if priority := c.Query("priority"); priority != "" {
		p := Priority(priority)
		filters.Priority = &p
	}
	if riskLevel := c.Query("risk_level"); riskLevel != "" {
		r := RiskLevel(riskLevel)
		filters.RiskLevel = &r
	}
	if reviewer := c.Query("reviewer"); reviewer != "" {
		id, err := uuid.Parse(reviewer)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reviewer ID"})
			return
		}
		filters.AssignedReviewer = &id
	}
	if after := c.Query("created_after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "created_after must be RFC 3339"})
			return
		}
		filters.CreatedAfter = &t
	}
	if before := c.Query("created_before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "created_before must be RFC 3339"})
			return
		}
		filters.CreatedBefore = &t
	}
	if search := c.Query("search"); search != "" {
		filters.SearchTerm = &search
	}
	if overdue := c.Query("overdue"); overdue != "" {
		o := overdue == "true"
		filters.Overdue = &o
	}

	processes, total, err := h.engine.List(c.Request.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list processes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]processResponse, 0, len(processes))
	for _, p := range processes {
		items = append(items, snapshot(p))
	}

	c.JSON(http.StatusOK, gin.H{
		"processes":   items,
		"total_count": total,
		"page":        filters.Page,
		"page_size":   filters.PageSize,
	})
}

// getProcess handles GET /api/v1/verifications/:id
func (h *Handler) getProcess(c *gin.Context) {
	id, ok := h.processID(c)
	if !ok {
		return
	}

	p, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot(p))
}

type startReviewRequest struct {
	ReviewerID      uuid.UUID `json:"reviewer_id" binding:"required"`
	ExpectedVersion *int      `json:"expected_version" binding:"required"`
}

// startReview handles POST /api/v1/verifications/:id/start-review
func (h *Handler) startReview(c *gin.Context) {
	id, ok := h.processID(c)
	if !ok {
		return
	}

	var req startReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.engine.StartReview(c.Request.Context(), id, req.ReviewerID, *req.ExpectedVersion)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot(p))
}

type approveRequest struct {
	ExpectedVersion *int   `json:"expected_version" binding:"required"`
	ReviewNotes     string `json:"review_notes"`
	TemplateID      string `json:"template_id"`
	Notify          *bool  `json:"notify"`
}

// approve handles POST /api/v1/verifications/:id/approve
func (h *Handler) approve(c *gin.Context) {
	id, ok := h.processID(c)
	if !ok {
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.engine.Approve(c.Request.Context(), id, *req.ExpectedVersion, ApproveInput{
		ReviewNotes: req.ReviewNotes,
		TemplateID:  req.TemplateID,
		Notify:      req.Notify == nil || *req.Notify,
		Actor:       h.actor(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot(p))
}

type rejectRequest struct {
	ExpectedVersion   *int   `json:"expected_version" binding:"required"`
	ReasonCode        string `json:"reason_code" binding:"required"`
	CustomDetails     string `json:"custom_details"`
	TemplateID        string `json:"template_id"`
	AllowResubmission bool   `json:"allow_resubmission"`
	Notify            *bool  `json:"notify"`
}

// reject handles POST /api/v1/verifications/:id/reject
func (h *Handler) reject(c *gin.Context) {
	id, ok := h.processID(c)
	if !ok {
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.engine.Reject(c.Request.Context(), id, *req.ExpectedVersion, RejectInput{
		ReasonCode:        req.ReasonCode,
		CustomDetails:     req.CustomDetails,
		TemplateID:        req.TemplateID,
		AllowResubmission: req.AllowResubmission,
		Notify:            req.Notify == nil || *req.Notify,
		Actor:             h.actor(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot(p))
}

type moreInfoRequest struct {
	ExpectedVersion *int       `json:"expected_version" binding:"required"`
	RequiredFields  []string   `json:"required_fields"`
	CustomMessage   string     `json:"custom_message"`
	Deadline        *time.Time `json:"deadline"`
	NotifyUser      *bool      `json:"notify_user"`
}

// requestMoreInfo handles POST /api/v1/verifications/:id/request-info
func (h *Handler) requestMoreInfo(c *gin.Context) {
	id, ok := h.processID(c)
	if !ok {
		return
	}

	var req moreInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.engine.RequestMoreInfo(c.Request.Context(), id, *req.ExpectedVersion, MoreInfoRequest{
		RequiredFields: req.RequiredFields,
		CustomMessage:  req.CustomMessage,
		Deadline:       req.Deadline,
		NotifyUser:     req.NotifyUser == nil || *req.NotifyUser,
		Actor:          h.actor(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot(p))
}

type resubmitRequest struct {
	ExpectedVersion *int     `json:"expected_version" binding:"required"`
	ProvidedFields  []string `json:"provided_fields"`
}

// resubmit handles POST /api/v1/verifications/:id/resubmit
func (h *Handler) resubmit(c *gin.Context) {
	id, ok := h.processID(c)
	if !ok {
		return
	}

	var req resubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.engine.Resubmit(c.Request.Context(), id, *req.ExpectedVersion, req.ProvidedFields, h.actor(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot(p))
}

type assignRequest struct {
	ExpectedVersion *int      `json:"expected_version" binding:"required"`
	ReviewerID      uuid.UUID `json:"reviewer_id" binding:"required"`
}

// assignReviewer handles POST /api/v1/verifications/:id/assign
func (h *Handler) assignReviewer(c *gin.Context) {
	id, ok := h.processID(c)
	if !ok {
		return
	}

	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.engine.AssignReviewer(c.Request.Context(), id, req.ReviewerID, *req.ExpectedVersion, h.actor(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot(p))
}

// reassessRisk handles POST /api/v1/verifications/:id/risk/reassess
func (h *Handler) reassessRisk(c *gin.Context) {
	id, ok := h.processID(c)
	if !ok {
		return
	}

	p, err := h.engine.ReassessRisk(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot(p))
}

type bulkActionRequest struct {
	Action     BulkAction    `json:"action" binding:"required"`
	Items      []BulkItem    `json:"items" binding:"required"`
	Approve    *ApproveInput `json:"approve"`
	Reject     *RejectInput  `json:"reject"`
	ReviewerID *uuid.UUID    `json:"reviewer_id"`
}

// bulkAction handles POST /api/v1/verifications/bulk
func (h *Handler) bulkAction(c *gin.Context) {
	var req bulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := h.actor(c)
	if req.Approve != nil {
		req.Approve.Actor = actor
	}
	if req.Reject != nil {
		req.Reject.Actor = actor
	}

	results, err := h.bulk.Execute(c.Request.Context(), BulkRequest{
		Action:     req.Action,
		Items:      req.Items,
		Approve:    req.Approve,
		Reject:     req.Reject,
		ReviewerID: req.ReviewerID,
		Actor:      actor,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

// =====================================================
// Helper Methods
// =====================================================

func (h *Handler) processID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid process ID"})
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps the engine's error taxonomy to HTTP statuses; the admin
// always sees the specific refusal reason.
func (h *Handler) respondError(c *gin.Context, err error) {
	kind := KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case KindValidation:
		status = http.StatusBadRequest
	case KindNotFound:
		status = http.StatusNotFound
	case KindInvalidTransition, KindVersionConflict:
		status = http.StatusConflict
	case KindIncompleteSubmission:
		status = http.StatusUnprocessableEntity
	}

	body := gin.H{"error": err.Error(), "kind": kind}
	var incomplete *IncompleteSubmissionError
	if errors.As(err, &incomplete) {
		body["missing_fields"] = incomplete.Missing
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("verification operation failed", zap.Error(err))
	}

	c.JSON(status, body)
}

// actor extracts the admin identity from context (set by auth middleware)
func (h *Handler) actor(c *gin.Context) string {
	if adminID := c.GetHeader("X-Admin-ID"); adminID != "" {
		return adminID
	}
	return "system"
}

// getIntParam gets an integer query parameter with a default value
func (h *Handler) getIntParam(c *gin.Context, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
