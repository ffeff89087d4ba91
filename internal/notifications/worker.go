package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/verihub/verification-backend/internal/communication"
)

// Channel delivers message content to the user. Implementations wrap the
// actual transport (email, SMS); the processor only cares about success.
type Channel interface {
	Send(ctx context.Context, msg *communication.SystemMessage) error
}

// LogChannel is a development stand-in that "delivers" by logging
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a log-only delivery channel
func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Send(ctx context.Context, msg *communication.SystemMessage) error {
	c.logger.Info("delivering notification",
		zap.String("message_id", msg.ID.String()),
		zap.String("user_id", msg.UserID.String()),
		zap.String("type", string(msg.Type)))
	return nil
}

// Processor is plugged into the asynq worker loop. Every delivery status move
// goes through the communication log so the forward-only rules hold here too.
type Processor struct {
	log     *communication.Log
	channel Channel
	logger  *zap.Logger
}

// NewProcessor constructs a delivery processor
func NewProcessor(log *communication.Log, channel Channel, logger *zap.Logger) *Processor {
	return &Processor{log: log, channel: channel, logger: logger}
}

// Handler registers the delivery task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskDeliverNotification, p.handleDeliver)
	return mux
}

func (p *Processor) handleDeliver(ctx context.Context, task *asynq.Task) error {
	var payload DeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	id, err := uuid.Parse(payload.MessageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", payload.MessageID, err)
	}

	msg, err := p.log.GetSystemMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg.DeliveryStatus != communication.DeliveryPending {
		// Retried task whose earlier attempt already advanced the message.
		p.logger.Info("skipping delivery, message no longer pending",
			zap.String("message_id", id.String()),
			zap.String("status", string(msg.DeliveryStatus)))
		return nil
	}

	if msg, err = p.log.AdvanceDeliveryStatus(ctx, id, communication.DeliverySent); err != nil {
		return err
	}

	if err := p.channel.Send(ctx, msg); err != nil {
		p.logger.Error("delivery failed", zap.String("message_id", id.String()), zap.Error(err))
		if _, failErr := p.log.AdvanceDeliveryStatus(ctx, id, communication.DeliveryFailed); failErr != nil {
			p.logger.Error("failed to mark message failed",
				zap.String("message_id", id.String()), zap.Error(failErr))
		}
		return err
	}

	if _, err := p.log.AdvanceDeliveryStatus(ctx, id, communication.DeliveryDelivered); err != nil {
		return err
	}
	return nil
}
