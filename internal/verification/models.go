package verification

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the review status of a verification process
type Status string

const (
	StatusPending           Status = "pending"
	StatusInReview          Status = "in_review"
	StatusApproved          Status = "approved"
	StatusRejected          Status = "rejected"
	StatusMoreInfoRequested Status = "more_info_requested"
	StatusResubmitted       Status = "resubmitted"
)

// UserType represents the kind of account that submitted the request
type UserType string

const (
	UserTypeDesigner         UserType = "designer"
	UserTypeServiceRequester UserType = "service_requester"
	UserTypeAdminInitiated   UserType = "admin_initiated"
)

// Priority represents the review priority of a process
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// RiskLevel represents the externally supplied risk classification
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// RiskAssessment is supplied by the external risk provider and attached to a
// process at creation; it can be refreshed on demand.
type RiskAssessment struct {
	Score      float64   `json:"score"`
	Level      RiskLevel `json:"level"`
	AssessedAt time.Time `json:"assessed_at"`
}

// RequestSnapshot holds the user-submitted verification data. It is immutable
// once the process is created; resubmitted field values arrive as new
// transitions, never as edits to this snapshot.
type RequestSnapshot struct {
	FullName  string            `json:"full_name"`
	Email     string            `json:"email"`
	Fields    map[string]string `json:"fields"`
	Documents []string          `json:"documents"`
}

// StatusChange is one entry in a process's audit history. History is
// append-only; entries are never rewritten after the transition is accepted.
type StatusChange struct {
	From              Status     `json:"from"`
	To                Status     `json:"to"`
	Actor             string     `json:"actor"`
	Reason            string     `json:"reason,omitempty"`
	ReasonCode        string     `json:"reason_code,omitempty"`
	AllowResubmission bool       `json:"allow_resubmission,omitempty"`
	RequiredFields    []string   `json:"required_fields,omitempty"`
	ProvidedFields    []string   `json:"provided_fields,omitempty"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
}

// Process identifies one user's verification attempt and its full audit trail.
//
// Version counts accepted transitions since creation: creation seeds
// History[0] at Version 0, and every accepted transition appends one entry and
// increments Version exactly once, so Version == len(History)-1 always holds.
type Process struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	UserType         UserType        `json:"user_type"`
	Request          RequestSnapshot `json:"request"`
	Status           Status          `json:"status"`
	Priority         Priority        `json:"priority"`
	Risk             *RiskAssessment `json:"risk_assessment,omitempty"`
	AssignedReviewer *uuid.UUID      `json:"assigned_reviewer,omitempty"`
	History          []StatusChange  `json:"history"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int             `json:"version"`
}

// IsOverdue reports whether an outstanding more-info deadline has elapsed.
// Overdue is derived at read time; it never changes Status on its own.
func (p *Process) IsOverdue(now time.Time) bool {
	if p.Status != StatusMoreInfoRequested {
		return false
	}
	last := p.lastMoreInfoRequest()
	if last == nil || last.Deadline == nil {
		return false
	}
	return now.After(*last.Deadline)
}

// OutstandingFields returns the field identifiers still required from the
// user, or nil when nothing is outstanding. The result is a copy; history
// entries are never handed out by reference.
func (p *Process) OutstandingFields() []string {
	if p.Status != StatusMoreInfoRequested {
		return nil
	}
	if last := p.lastMoreInfoRequest(); last != nil {
		return append([]string(nil), last.RequiredFields...)
	}
	return nil
}

func (p *Process) lastMoreInfoRequest() *StatusChange {
	for i := len(p.History) - 1; i >= 0; i-- {
		if p.History[i].To == StatusMoreInfoRequested {
			return &p.History[i]
		}
	}
	return nil
}

// LastRejection returns the most recent rejection entry, if any.
func (p *Process) LastRejection() *StatusChange {
	for i := len(p.History) - 1; i >= 0; i-- {
		if p.History[i].To == StatusRejected {
			return &p.History[i]
		}
	}
	return nil
}

// ProcessFilters narrows a process listing. Nil pointer fields are not
// applied. Filtering always happens in the store; callers never receive an
// unbounded result set to filter locally.
type ProcessFilters struct {
	Status           *Status
	Priority         *Priority
	RiskLevel        *RiskLevel
	AssignedReviewer *uuid.UUID
	CreatedAfter     *time.Time
	CreatedBefore    *time.Time
	SearchTerm       *string
	Overdue          *bool
	Page             int
	PageSize         int
}
