package communication

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMessageNotFound reports an unknown system message ID
	ErrMessageNotFound = errors.New("message not found")
	// ErrProcessNotFound reports a message referencing a nonexistent process
	ErrProcessNotFound = errors.New("process not found")
)

// DeliveryStatus tracks a system message's lifecycle, independent of the
// process status it was generated for.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// deliveryRank orders the forward-only progression. Failed sits outside the
// chain: reachable from any non-terminal status, terminal once reached.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
}

// MessageType categorizes the status change a system message announces
type MessageType string

const (
	TypeApproval  MessageType = "approval"
	TypeRejection MessageType = "rejection"
	TypeMoreInfo  MessageType = "more_info"
)

// SystemMessage is a system-generated notification tied to a process. Messages
// reference their process by ID only; archiving a process never deletes them.
type SystemMessage struct {
	ID             uuid.UUID      `json:"id"`
	ProcessID      uuid.UUID      `json:"process_id"`
	UserID         uuid.UUID      `json:"user_id"`
	Type           MessageType    `json:"type"`
	Content        string         `json:"content"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	CreatedAt      time.Time      `json:"created_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	FailedAt       *time.Time     `json:"failed_at,omitempty"`
}

// UserMessage is one entry of two-way correspondence on a process. Purely
// additive; no delivery state machine applies.
type UserMessage struct {
	ID          uuid.UUID  `json:"id"`
	ProcessID   uuid.UUID  `json:"process_id"`
	UserID      uuid.UUID  `json:"user_id"`
	AdminID     *uuid.UUID `json:"admin_id,omitempty"`
	Content     string     `json:"content"`
	IsFromAdmin bool       `json:"is_from_admin"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Correspondence is the merged per-process message view for admin tooling
type Correspondence struct {
	ProcessID      uuid.UUID       `json:"process_id"`
	SystemMessages []SystemMessage `json:"system_messages"`
	UserMessages   []UserMessage   `json:"user_messages"`
}

// InvalidDeliveryTransitionError signals misuse of the delivery log: a
// backward or skip-ahead status move. Treated as a defect, not surfaced to
// end users.
type InvalidDeliveryTransitionError struct {
	MessageID uuid.UUID
	From      DeliveryStatus
	To        DeliveryStatus
}

func (e *InvalidDeliveryTransitionError) Error() string {
	return fmt.Sprintf("message %s: delivery status cannot move %s -> %s", e.MessageID, e.From, e.To)
}

// canAdvance reports whether the progression from -> to is legal: exactly one
// step forward along the chain, or failed from any non-terminal status.
func canAdvance(from, to DeliveryStatus) bool {
	if from == DeliveryRead || from == DeliveryFailed {
		return false
	}
	if to == DeliveryFailed {
		return true
	}
	fromRank, ok := deliveryRank[from]
	if !ok {
		return false
	}
	toRank, ok := deliveryRank[to]
	if !ok {
		return false
	}
	return toRank == fromRank+1
}
