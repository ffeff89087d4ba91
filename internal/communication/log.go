package communication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProcessChecker verifies that a message references an existing process
type ProcessChecker interface {
	ProcessExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Log is the append-only communication record for verification processes. It
// exclusively owns message delivery status; nothing else mutates it.
type Log struct {
	store     Store
	processes ProcessChecker
	logger    *zap.Logger
}

// NewLog creates a communication log backed by the given store
func NewLog(store Store, processes ProcessChecker, logger *zap.Logger) *Log {
	return &Log{store: store, processes: processes, logger: logger}
}

// RecordSystemMessage appends a system-generated message with delivery status
// pending. The dispatcher picks it up from there.
func (l *Log) RecordSystemMessage(ctx context.Context, msg *SystemMessage) error {
	if msg.Content == "" {
		return fmt.Errorf("system message content must not be empty")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.DeliveryStatus = DeliveryPending
	msg.CreatedAt = time.Now()

	if err := l.store.InsertSystemMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to record system message: %w", err)
	}
	return nil
}

// AdvanceDeliveryStatus moves a message one step along the forward-only
// progression pending -> sent -> delivered -> read, or to failed from any
// non-terminal status. Backward and skip-ahead moves are rejected. The write
// is a check-and-set on the status read here, so a concurrent advance that
// lands in between is rejected rather than overwritten; callers re-read and
// retry if their move is still legal.
func (l *Log) AdvanceDeliveryStatus(ctx context.Context, id uuid.UUID, next DeliveryStatus) (*SystemMessage, error) {
	msg, err := l.store.GetSystemMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	from := msg.DeliveryStatus
	if !canAdvance(from, next) {
		err := &InvalidDeliveryTransitionError{MessageID: id, From: from, To: next}
		l.logger.Error("rejected delivery status transition",
			zap.String("message_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(next)))
		return nil, err
	}

	now := time.Now()
	msg.DeliveryStatus = next
	switch next {
	case DeliverySent:
		msg.SentAt = &now
	case DeliveryDelivered:
		msg.DeliveredAt = &now
	case DeliveryRead:
		msg.ReadAt = &now
	case DeliveryFailed:
		msg.FailedAt = &now
	}

	if err := l.store.UpdateSystemMessage(ctx, msg, from); err != nil {
		var invalid *InvalidDeliveryTransitionError
		if errors.As(err, &invalid) {
			l.logger.Error("rejected delivery status transition",
				zap.String("message_id", id.String()),
				zap.String("from", string(invalid.From)),
				zap.String("to", string(invalid.To)))
			return nil, err
		}
		return nil, fmt.Errorf("failed to advance delivery status: %w", err)
	}
	return msg, nil
}

// GetSystemMessage returns one system message by ID.
func (l *Log) GetSystemMessage(ctx context.Context, id uuid.UUID) (*SystemMessage, error) {
	return l.store.GetSystemMessage(ctx, id)
}

// RecordUserMessage appends one correspondence entry. The referenced process
// must exist; beyond that no state machine applies.
func (l *Log) RecordUserMessage(ctx context.Context, msg *UserMessage) error {
	if msg.Content == "" {
		return fmt.Errorf("user message content must not be empty")
	}

	exists, err := l.processes.ProcessExists(ctx, msg.ProcessID)
	if err != nil {
		return fmt.Errorf("failed to check process reference: %w", err)
	}
	if !exists {
		return fmt.Errorf("process %s: %w", msg.ProcessID, ErrProcessNotFound)
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()

	if err := l.store.InsertUserMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to record user message: %w", err)
	}
	return nil
}

// ListForProcess returns the full correspondence for a process
func (l *Log) ListForProcess(ctx context.Context, processID uuid.UUID) (*Correspondence, error) {
	system, user, err := l.store.ListByProcess(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return &Correspondence{
		ProcessID:      processID,
		SystemMessages: system,
		UserMessages:   user,
	}, nil
}
