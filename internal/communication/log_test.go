package communication

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticChecker bool

func (c staticChecker) ProcessExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return bool(c), nil
}

func newTestLog(t *testing.T, exists bool) *Log {
	t.Helper()
	return NewLog(NewMemoryStore(), staticChecker(exists), zap.NewNop())
}

func recordMessage(t *testing.T, log *Log) *SystemMessage {
	t.Helper()
	msg := &SystemMessage{
		ProcessID: uuid.New(),
		UserID:    uuid.New(),
		Type:      TypeApproval,
		Content:   "your request has been approved",
	}
	require.NoError(t, log.RecordSystemMessage(context.Background(), msg))
	return msg
}

func TestRecordSystemMessageStartsPending(t *testing.T) {
	log := newTestLog(t, true)
	msg := recordMessage(t, log)

	assert.NotEqual(t, uuid.Nil, msg.ID)
	assert.Equal(t, DeliveryPending, msg.DeliveryStatus)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Nil(t, msg.SentAt)
}

func TestRecordSystemMessageRejectsEmptyContent(t *testing.T) {
	log := newTestLog(t, true)
	err := log.RecordSystemMessage(context.Background(), &SystemMessage{
		ProcessID: uuid.New(), UserID: uuid.New(), Type: TypeApproval,
	})
	assert.Error(t, err)
}

func TestDeliveryProgression(t *testing.T) {
	log := newTestLog(t, true)
	ctx := context.Background()
	msg := recordMessage(t, log)

	msg, err := log.AdvanceDeliveryStatus(ctx, msg.ID, DeliverySent)
	require.NoError(t, err)
	assert.Equal(t, DeliverySent, msg.DeliveryStatus)
	assert.NotNil(t, msg.SentAt)

	msg, err = log.AdvanceDeliveryStatus(ctx, msg.ID, DeliveryDelivered)
	require.NoError(t, err)
	assert.NotNil(t, msg.DeliveredAt)

	msg, err = log.AdvanceDeliveryStatus(ctx, msg.ID, DeliveryRead)
	require.NoError(t, err)
	assert.Equal(t, DeliveryRead, msg.DeliveryStatus)
	assert.NotNil(t, msg.ReadAt)
}

func TestDeliverySkipAheadRejected(t *testing.T) {
	log := newTestLog(t, true)
	ctx := context.Background()
	msg := recordMessage(t, log)

	_, err := log.AdvanceDeliveryStatus(ctx, msg.ID, DeliveryRead)
	var invalid *InvalidDeliveryTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, DeliveryPending, invalid.From)
	assert.Equal(t, DeliveryRead, invalid.To)

	// Rejected moves leave the message where it was.
	got, gerr := log.GetSystemMessage(ctx, msg.ID)
	require.NoError(t, gerr)
	assert.Equal(t, DeliveryPending, got.DeliveryStatus)
}

func TestDeliveryBackwardRejected(t *testing.T) {
	log := newTestLog(t, true)
	ctx := context.Background()
	msg := recordMessage(t, log)

	_, err := log.AdvanceDeliveryStatus(ctx, msg.ID, DeliverySent)
	require.NoError(t, err)
	_, err = log.AdvanceDeliveryStatus(ctx, msg.ID, DeliveryDelivered)
	require.NoError(t, err)

	var invalid *InvalidDeliveryTransitionError
	_, err = log.AdvanceDeliveryStatus(ctx, msg.ID, DeliverySent)
	assert.ErrorAs(t, err, &invalid)
	_, err = log.AdvanceDeliveryStatus(ctx, msg.ID, DeliveryPending)
	assert.ErrorAs(t, err, &invalid)
}

func TestDeliveryFailedTerminal(t *testing.T) {
	log := newTestLog(t, true)
	ctx := context.Background()
	msg := recordMessage(t, log)

	_, err := log.AdvanceDeliveryStatus(ctx, msg.ID, DeliverySent)
	require.NoError(t, err)
	msg, err = log.AdvanceDeliveryStatus(ctx, msg.ID, DeliveryFailed)
	require.NoError(t, err)
	assert.NotNil(t, msg.FailedAt)

	// Nothing moves out of failed.
	var invalid *InvalidDeliveryTransitionError
	_, err = log.AdvanceDeliveryStatus(ctx, msg.ID, DeliverySent)
	assert.ErrorAs(t, err, &invalid)
	_, err = log.AdvanceDeliveryStatus(ctx, msg.ID, DeliveryFailed)
	assert.ErrorAs(t, err, &invalid)
}

func TestDeliveryReadTerminal(t *testing.T) {
	log := newTestLog(t, true)
	ctx := context.Background()
	msg := recordMessage(t, log)

	for _, next := range []DeliveryStatus{DeliverySent, DeliveryDelivered, DeliveryRead} {
		_, err := log.AdvanceDeliveryStatus(ctx, msg.ID, next)
		require.NoError(t, err)
	}

	var invalid *InvalidDeliveryTransitionError
	_, err := log.AdvanceDeliveryStatus(ctx, msg.ID, DeliveryFailed)
	assert.ErrorAs(t, err, &invalid, "read is terminal, even toward failed")
}

func TestStoreUpdateRequiresCurrentStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	msg := &SystemMessage{
		ID:             uuid.New(),
		ProcessID:      uuid.New(),
		UserID:         uuid.New(),
		Type:           TypeApproval,
		Content:        "approved",
		DeliveryStatus: DeliveryPending,
	}
	require.NoError(t, store.InsertSystemMessage(ctx, msg))

	stale := *msg
	stale.DeliveryStatus = DeliveryFailed
	err := store.UpdateSystemMessage(ctx, &stale, DeliverySent)
	var invalid *InvalidDeliveryTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, DeliveryPending, invalid.From)

	got, gerr := store.GetSystemMessage(ctx, msg.ID)
	require.NoError(t, gerr)
	assert.Equal(t, DeliveryPending, got.DeliveryStatus)
}

func TestConcurrentAdvanceNeverOverwritesFailed(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 300; i++ {
		log := newTestLog(t, true)
		msg := recordMessage(t, log)

		start := make(chan struct{})
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for j, target := range []DeliveryStatus{DeliveryFailed, DeliverySent} {
			wg.Add(1)
			go func(j int, target DeliveryStatus) {
				defer wg.Done()
				<-start
				_, errs[j] = log.AdvanceDeliveryStatus(ctx, msg.ID, target)
			}(j, target)
		}
		close(start)
		wg.Wait()

		got, err := log.GetSystemMessage(ctx, msg.ID)
		require.NoError(t, err)

		// Once an advance to failed is accepted, nothing may move the
		// message again.
		if errs[0] == nil {
			require.Equal(t, DeliveryFailed, got.DeliveryStatus)
		}
		// A losing advance surfaces the rejection instead of clobbering.
		for _, err := range errs {
			if err != nil {
				var invalid *InvalidDeliveryTransitionError
				require.ErrorAs(t, err, &invalid)
			}
		}
	}
}

func TestRecordUserMessageRequiresProcess(t *testing.T) {
	ctx := context.Background()

	log := newTestLog(t, false)
	err := log.RecordUserMessage(ctx, &UserMessage{
		ProcessID: uuid.New(), UserID: uuid.New(), Content: "hello",
	})
	assert.ErrorIs(t, err, ErrProcessNotFound)

	log = newTestLog(t, true)
	msg := &UserMessage{ProcessID: uuid.New(), UserID: uuid.New(), Content: "hello"}
	require.NoError(t, log.RecordUserMessage(ctx, msg))
	assert.NotEqual(t, uuid.Nil, msg.ID)
}

func TestListForProcess(t *testing.T) {
	log := newTestLog(t, true)
	ctx := context.Background()
	processID := uuid.New()

	for _, content := range []string{"first", "second"} {
		require.NoError(t, log.RecordSystemMessage(ctx, &SystemMessage{
			ProcessID: processID, UserID: uuid.New(), Type: TypeMoreInfo, Content: content,
		}))
	}
	require.NoError(t, log.RecordUserMessage(ctx, &UserMessage{
		ProcessID: processID, UserID: uuid.New(), Content: "here are my documents",
	}))
	// Noise on another process must not leak in.
	require.NoError(t, log.RecordSystemMessage(ctx, &SystemMessage{
		ProcessID: uuid.New(), UserID: uuid.New(), Type: TypeApproval, Content: "other",
	}))

	corr, err := log.ListForProcess(ctx, processID)
	require.NoError(t, err)
	assert.Equal(t, processID, corr.ProcessID)
	assert.Len(t, corr.SystemMessages, 2)
	assert.Len(t, corr.UserMessages, 1)
}
