package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verihub/verification-backend/internal/communication"
)

// allowedTransitions enforces the process status graph. Rejected appears here
// because a rejection can opt in to resubmission; Resubmit gates that path on
// the flag recorded at rejection time.
var allowedTransitions = map[Status][]Status{
	StatusPending:           {StatusInReview},
	StatusInReview:          {StatusApproved, StatusRejected, StatusMoreInfoRequested},
	StatusMoreInfoRequested: {StatusResubmitted},
	StatusResubmitted:       {StatusInReview},
	StatusRejected:          {StatusResubmitted},
	StatusApproved:          {},
}

// CanTransition checks if a status transition is allowed
func CanTransition(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TemplateSource resolves reusable message bodies. A missing template yields
// "" so callers fall back to their own content.
type TemplateSource interface {
	TemplateContent(ctx context.Context, id string) (string, error)
}

// MessageRecorder appends system messages to the communication log
type MessageRecorder interface {
	RecordSystemMessage(ctx context.Context, msg *communication.SystemMessage) error
}

// Notifier hands a recorded message to the external delivery pipeline
type Notifier interface {
	Enqueue(ctx context.Context, msg *communication.SystemMessage) (string, error)
}

// RiskSource supplies risk assessments; the engine consumes, never computes
type RiskSource interface {
	Assess(ctx context.Context, req RequestSnapshot) (*RiskAssessment, error)
}

// Engine validates and applies verification process transitions. All
// concurrency control is optimistic: callers present the version they read,
// and stale writes are rejected rather than blocked or merged.
type Engine struct {
	store       Store
	messages    MessageRecorder
	notifier    Notifier
	templates   TemplateSource
	risk        RiskSource
	reasonCodes map[string]bool
	logger      *zap.Logger
}

// NewEngine creates a workflow engine. reasonCodes is the closed rejection
// taxonomy from configuration.
func NewEngine(store Store, messages MessageRecorder, notifier Notifier, templates TemplateSource, risk RiskSource, reasonCodes []string, logger *zap.Logger) *Engine {
	codes := make(map[string]bool, len(reasonCodes))
	for _, code := range reasonCodes {
		codes[code] = true
	}
	return &Engine{
		store:       store,
		messages:    messages,
		notifier:    notifier,
		templates:   templates,
		risk:        risk,
		reasonCodes: codes,
		logger:      logger,
	}
}

// CreateInput describes a new verification submission
type CreateInput struct {
	UserID   uuid.UUID
	UserType UserType
	Request  RequestSnapshot
	Priority Priority
	Actor    string
}

// CreateProcess registers a submission and seeds its history with the
// transition into pending. Risk scoring failures are logged and tolerated;
// creation never blocks on the provider.
func (e *Engine) CreateProcess(ctx context.Context, in CreateInput) (*Process, error) {
	if in.UserID == uuid.Nil {
		return nil, &ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}

	now := time.Now()
	p := &Process{
		ID:       uuid.New(),
		UserID:   in.UserID,
		UserType: in.UserType,
		Request:  in.Request,
		Status:   StatusPending,
		Priority: in.Priority,
		History: []StatusChange{{
			To:         StatusPending,
			Actor:      in.Actor,
			Reason:     "verification submitted",
			OccurredAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   0,
	}

	if e.risk != nil {
		if assessment, err := e.risk.Assess(ctx, in.Request); err != nil {
			e.logger.Warn("risk assessment unavailable at creation",
				zap.String("process_id", p.ID.String()), zap.Error(err))
		} else {
			p.Risk = assessment
		}
	}

	if err := e.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// StartReview claims a pending process for a reviewer.
func (e *Engine) StartReview(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, expectedVersion int) (*Process, error) {
	p, err := e.load(ctx, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, &InvalidTransitionError{ProcessID: id, From: p.Status, Action: "start review"}
	}

	p.AssignedReviewer = &reviewerID
	if err := e.apply(ctx, p, StatusInReview, StatusChange{
		Actor:  reviewerID.String(),
		Reason: "review started",
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// ApproveInput carries the optional notification content for an approval
type ApproveInput struct {
	ReviewNotes string `json:"review_notes"`
	TemplateID  string `json:"template_id"`
	Notify      bool   `json:"notify"`
	Actor       string `json:"-"`
}

// Approve finishes a review positively. When Notify is set, exactly one
// approval message is produced from the template or the review notes.
func (e *Engine) Approve(ctx context.Context, id uuid.UUID, expectedVersion int, in ApproveInput) (*Process, error) {
	p, err := e.load(ctx, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusInReview {
		return nil, &InvalidTransitionError{ProcessID: id, From: p.Status, Action: "approve"}
	}

	var content string
	if in.Notify {
		content = e.resolveContent(ctx, in.TemplateID, in.ReviewNotes)
		if content == "" {
			return nil, &ValidationError{Field: "review_notes", Message: "approval message content must not be empty"}
		}
	}

	if err := e.apply(ctx, p, StatusApproved, StatusChange{
		Actor:  in.Actor,
		Reason: in.ReviewNotes,
	}); err != nil {
		return nil, err
	}

	if in.Notify {
		e.notify(ctx, p, communication.TypeApproval, content)
	}
	return p, nil
}

// RejectInput describes a rejection decision
type RejectInput struct {
	ReasonCode        string `json:"reason_code"`
	CustomDetails     string `json:"custom_details"`
	TemplateID        string `json:"template_id"`
	AllowResubmission bool   `json:"allow_resubmission"`
	Notify            bool   `json:"notify"`
	Actor             string `json:"-"`
}

// Reject finishes a review negatively. AllowResubmission is recorded on the
// history entry so a later Resubmit can honor it.
func (e *Engine) Reject(ctx context.Context, id uuid.UUID, expectedVersion int, in RejectInput) (*Process, error) {
	if !e.reasonCodes[in.ReasonCode] {
		return nil, &ValidationError{Field: "reason_code", Message: fmt.Sprintf("unknown rejection reason %q", in.ReasonCode)}
	}

	p, err := e.load(ctx, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusInReview {
		return nil, &InvalidTransitionError{ProcessID: id, From: p.Status, Action: "reject"}
	}

	if err := e.apply(ctx, p, StatusRejected, StatusChange{
		Actor:             in.Actor,
		Reason:            in.CustomDetails,
		ReasonCode:        in.ReasonCode,
		AllowResubmission: in.AllowResubmission,
	}); err != nil {
		return nil, err
	}

	if in.Notify {
		content := e.resolveContent(ctx, in.TemplateID, in.CustomDetails)
		if content == "" {
			content = fmt.Sprintf("Your verification request was rejected: %s", in.ReasonCode)
		}
		e.notify(ctx, p, communication.TypeRejection, content)
	}
	return p, nil
}

// MoreInfoRequest describes one more-info cycle. It is not persisted on its
// own; it produces a transition plus a log entry.
type MoreInfoRequest struct {
	RequiredFields []string
	CustomMessage  string
	Deadline       *time.Time
	NotifyUser     bool
	Actor          string
}

// RequestMoreInfo pauses a review until the user supplies the named fields.
func (e *Engine) RequestMoreInfo(ctx context.Context, id uuid.UUID, expectedVersion int, req MoreInfoRequest) (*Process, error) {
	if len(req.RequiredFields) == 0 {
		return nil, &ValidationError{Field: "required_fields", Message: "must not be empty"}
	}
	if req.CustomMessage == "" {
		return nil, &ValidationError{Field: "custom_message", Message: "must not be empty"}
	}
	if req.Deadline != nil && !req.Deadline.After(time.Now()) {
		return nil, &ValidationError{Field: "deadline", Message: "must be in the future"}
	}

	p, err := e.load(ctx, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusInReview {
		return nil, &InvalidTransitionError{ProcessID: id, From: p.Status, Action: "request more information"}
	}

	if err := e.apply(ctx, p, StatusMoreInfoRequested, StatusChange{
		Actor:          req.Actor,
		Reason:         req.CustomMessage,
		RequiredFields: req.RequiredFields,
		Deadline:       req.Deadline,
	}); err != nil {
		return nil, err
	}

	if req.NotifyUser {
		e.notify(ctx, p, communication.TypeMoreInfo, req.CustomMessage)
	}
	return p, nil
}

// Resubmit accepts a user's follow-up. The process passes through resubmitted
// and re-enters in_review as one atomic step: one version increment, one
// history entry.
func (e *Engine) Resubmit(ctx context.Context, id uuid.UUID, expectedVersion int, providedFields []string, actor string) (*Process, error) {
	p, err := e.load(ctx, id, expectedVersion)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case StatusMoreInfoRequested:
		if missing := missingFields(p.OutstandingFields(), providedFields); len(missing) > 0 {
			return nil, &IncompleteSubmissionError{ProcessID: id, Missing: missing}
		}
	case StatusRejected:
		rejection := p.LastRejection()
		if rejection == nil || !rejection.AllowResubmission {
			return nil, &InvalidTransitionError{ProcessID: id, From: p.Status, Action: "resubmit"}
		}
	default:
		return nil, &InvalidTransitionError{ProcessID: id, From: p.Status, Action: "resubmit"}
	}

	if err := e.apply(ctx, p, StatusInReview, StatusChange{
		Actor:          actor,
		Reason:         "resubmission-accepted",
		ProvidedFields: providedFields,
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// AssignReviewer sets or changes the assigned reviewer without deciding the
// process. Allowed while pending or in review; counts as a transition so
// concurrent assignments race on the version like every other command.
func (e *Engine) AssignReviewer(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, expectedVersion int, actor string) (*Process, error) {
	p, err := e.load(ctx, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending && p.Status != StatusInReview {
		return nil, &InvalidTransitionError{ProcessID: id, From: p.Status, Action: "assign reviewer"}
	}

	p.AssignedReviewer = &reviewerID
	if err := e.apply(ctx, p, p.Status, StatusChange{
		Actor:  actor,
		Reason: fmt.Sprintf("reviewer assigned: %s", reviewerID),
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// ReassessRisk refreshes the externally supplied risk assessment. Not a
// transition: status, history and version are untouched.
func (e *Engine) ReassessRisk(ctx context.Context, id uuid.UUID) (*Process, error) {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.risk == nil {
		return p, nil
	}

	assessment, err := e.risk.Assess(ctx, p.Request)
	if err != nil {
		return nil, fmt.Errorf("risk reassessment failed: %w", err)
	}
	if err := e.store.UpdateRisk(ctx, id, assessment); err != nil {
		return nil, err
	}
	p.Risk = assessment
	return p, nil
}

// Get returns a process snapshot.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Process, error) {
	return e.store.Get(ctx, id)
}

// List returns a filtered, paginated process page with the total match count.
func (e *Engine) List(ctx context.Context, filters *ProcessFilters) ([]*Process, int, error) {
	return e.store.List(ctx, filters)
}

// load fetches a process and rejects stale caller versions up front. The
// store's check-and-set repeats the comparison at write time to close the
// read/write race.
func (e *Engine) load(ctx context.Context, id uuid.UUID, expectedVersion int) (*Process, error) {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Version != expectedVersion {
		return nil, &VersionConflictError{ProcessID: id, Expected: expectedVersion, Actual: p.Version}
	}
	return p, nil
}

// apply appends one history entry, bumps the version once and persists with
// check-and-set. entry.From/To/OccurredAt are filled here so every transition
// is recorded uniformly. The transition table is re-checked as a final guard;
// a resubmission hop (through resubmitted into in_review) collapses to one
// step here.
func (e *Engine) apply(ctx context.Context, p *Process, to Status, entry StatusChange) error {
	if to != p.Status && !CanTransition(p.Status, to) {
		viaResubmit := CanTransition(p.Status, StatusResubmitted) && CanTransition(StatusResubmitted, to)
		if !viaResubmit {
			return &InvalidTransitionError{ProcessID: p.ID, From: p.Status, Action: fmt.Sprintf("transition to %s", to)}
		}
	}

	now := time.Now()
	entry.From = p.Status
	entry.To = to
	entry.OccurredAt = now

	expected := p.Version
	p.Status = to
	p.History = append(p.History, entry)
	p.Version++
	p.UpdatedAt = now

	return e.store.Update(ctx, p, expected)
}

func (e *Engine) resolveContent(ctx context.Context, templateID, fallback string) string {
	if templateID != "" && e.templates != nil {
		content, err := e.templates.TemplateContent(ctx, templateID)
		if err != nil {
			e.logger.Warn("template lookup failed, using fallback content",
				zap.String("template_id", templateID), zap.Error(err))
		} else if content != "" {
			return content
		}
	}
	return fallback
}

// notify records the message with pending status and hands it to the
// dispatcher. Enqueue failures leave the message pending for a later sweep;
// the transition itself is already committed and is not rolled back.
func (e *Engine) notify(ctx context.Context, p *Process, msgType communication.MessageType, content string) {
	msg := &communication.SystemMessage{
		ProcessID: p.ID,
		UserID:    p.UserID,
		Type:      msgType,
		Content:   content,
	}
	if err := e.messages.RecordSystemMessage(ctx, msg); err != nil {
		e.logger.Error("failed to record system message",
			zap.String("process_id", p.ID.String()), zap.Error(err))
		return
	}
	if e.notifier == nil {
		return
	}
	if _, err := e.notifier.Enqueue(ctx, msg); err != nil {
		e.logger.Error("failed to enqueue notification",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
	}
}

func missingFields(required, provided []string) []string {
	if len(required) == 0 {
		return nil
	}
	have := make(map[string]bool, len(provided))
	for _, field := range provided {
		have[field] = true
	}
	var missing []string
	for _, field := range required {
		if !have[field] {
			missing = append(missing, field)
		}
	}
	return missing
}
