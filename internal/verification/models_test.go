package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	waiting := &Process{
		Status: StatusMoreInfoRequested,
		History: []StatusChange{
			{To: StatusPending},
			{To: StatusInReview},
			{To: StatusMoreInfoRequested, RequiredFields: []string{"license"}, Deadline: &past},
		},
	}
	assert.True(t, waiting.IsOverdue(now), "elapsed deadline while waiting")

	waiting.History[2].Deadline = &future
	assert.False(t, waiting.IsOverdue(now), "deadline still ahead")

	waiting.History[2].Deadline = nil
	assert.False(t, waiting.IsOverdue(now), "no deadline set")

	// Overdue is derived; once the process moves on it clears itself.
	resumed := &Process{
		Status: StatusInReview,
		History: []StatusChange{
			{To: StatusPending},
			{To: StatusInReview},
			{To: StatusMoreInfoRequested, Deadline: &past},
			{To: StatusInReview},
		},
	}
	assert.False(t, resumed.IsOverdue(now))
}

func TestOutstandingFields(t *testing.T) {
	p := &Process{
		Status: StatusMoreInfoRequested,
		History: []StatusChange{
			{To: StatusPending},
			{To: StatusMoreInfoRequested, RequiredFields: []string{"a", "b"}},
		},
	}
	assert.Equal(t, []string{"a", "b"}, p.OutstandingFields())

	// Mutating the returned slice must not reach back into history.
	fields := p.OutstandingFields()
	fields[0] = "tampered"
	assert.Equal(t, []string{"a", "b"}, p.History[1].RequiredFields)

	p.Status = StatusInReview
	assert.Nil(t, p.OutstandingFields(), "nothing outstanding outside more_info_requested")
}

func TestLastRejection(t *testing.T) {
	p := &Process{
		History: []StatusChange{
			{To: StatusPending},
			{To: StatusInReview},
			{To: StatusRejected, ReasonCode: "incomplete_docs", AllowResubmission: true},
			{To: StatusInReview},
			{To: StatusRejected, ReasonCode: "fraud_suspected"},
		},
	}
	last := p.LastRejection()
	assert.NotNil(t, last)
	assert.Equal(t, "fraud_suspected", last.ReasonCode)
	assert.False(t, last.AllowResubmission)
}
