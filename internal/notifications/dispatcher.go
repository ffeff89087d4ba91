package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/verihub/verification-backend/internal/communication"
)

const (
	// TaskDeliverNotification is scheduled each time the engine records a
	// system message.
	TaskDeliverNotification = "notification:deliver"
)

// DeliverPayload is serialized into the task so the worker knows which
// message to deliver.
type DeliverPayload struct {
	MessageID string `json:"message_id"`
}

// Dispatcher enqueues recorded messages for asynchronous delivery. The engine
// returns as soon as the task is queued; delivery status comes back through
// the communication log.
type Dispatcher struct {
	client *asynq.Client
}

// NewDispatcher creates an asynq-backed dispatcher
func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Enqueue schedules delivery of a recorded system message and returns the
// task ID as the delivery handle.
func (d *Dispatcher) Enqueue(ctx context.Context, msg *communication.SystemMessage) (string, error) {
	data, err := json.Marshal(DeliverPayload{MessageID: msg.ID.String()})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskDeliverNotification, data)
	info, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(5))
	if err != nil {
		return "", fmt.Errorf("enqueue delivery task: %w", err)
	}
	return info.ID, nil
}
