package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verihub/verification-backend/internal/communication"
)

type staticChecker struct{}

func (staticChecker) ProcessExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return true, nil
}

type fakeChannel struct {
	err   error
	sends int
}

func (c *fakeChannel) Send(ctx context.Context, msg *communication.SystemMessage) error {
	c.sends++
	return c.err
}

func newWorkerEnv(t *testing.T, channel *fakeChannel) (*Processor, *communication.Log) {
	t.Helper()
	log := communication.NewLog(communication.NewMemoryStore(), staticChecker{}, zap.NewNop())
	return NewProcessor(log, channel, zap.NewNop()), log
}

func recordPending(t *testing.T, log *communication.Log) *communication.SystemMessage {
	t.Helper()
	msg := &communication.SystemMessage{
		ProcessID: uuid.New(),
		UserID:    uuid.New(),
		Type:      communication.TypeApproval,
		Content:   "approved",
	}
	require.NoError(t, log.RecordSystemMessage(context.Background(), msg))
	return msg
}

func deliverTask(t *testing.T, id uuid.UUID) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(DeliverPayload{MessageID: id.String()})
	require.NoError(t, err)
	return asynq.NewTask(TaskDeliverNotification, data)
}

func TestHandleDeliverSuccess(t *testing.T) {
	channel := &fakeChannel{}
	processor, log := newWorkerEnv(t, channel)
	msg := recordPending(t, log)

	err := processor.handleDeliver(context.Background(), deliverTask(t, msg.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, channel.sends)

	got, err := log.GetSystemMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, communication.DeliveryDelivered, got.DeliveryStatus)
	assert.NotNil(t, got.SentAt)
	assert.NotNil(t, got.DeliveredAt)
}

func TestHandleDeliverChannelFailure(t *testing.T) {
	channel := &fakeChannel{err: errors.New("smtp down")}
	processor, log := newWorkerEnv(t, channel)
	msg := recordPending(t, log)

	err := processor.handleDeliver(context.Background(), deliverTask(t, msg.ID))
	require.Error(t, err)

	got, gerr := log.GetSystemMessage(context.Background(), msg.ID)
	require.NoError(t, gerr)
	assert.Equal(t, communication.DeliveryFailed, got.DeliveryStatus)
	assert.NotNil(t, got.FailedAt)
}

func TestHandleDeliverSkipsNonPending(t *testing.T) {
	channel := &fakeChannel{}
	processor, log := newWorkerEnv(t, channel)
	msg := recordPending(t, log)

	// A previous attempt already moved the message along.
	_, err := log.AdvanceDeliveryStatus(context.Background(), msg.ID, communication.DeliverySent)
	require.NoError(t, err)

	err = processor.handleDeliver(context.Background(), deliverTask(t, msg.ID))
	require.NoError(t, err)
	assert.Zero(t, channel.sends, "retried task must not resend")

	got, gerr := log.GetSystemMessage(context.Background(), msg.ID)
	require.NoError(t, gerr)
	assert.Equal(t, communication.DeliverySent, got.DeliveryStatus)
}

func TestHandleDeliverBadPayload(t *testing.T) {
	processor, _ := newWorkerEnv(t, &fakeChannel{})

	err := processor.handleDeliver(context.Background(),
		asynq.NewTask(TaskDeliverNotification, []byte("{not json")))
	assert.Error(t, err)

	err = processor.handleDeliver(context.Background(),
		asynq.NewTask(TaskDeliverNotification, []byte(`{"message_id":"nope"}`)))
	assert.Error(t, err)
}
