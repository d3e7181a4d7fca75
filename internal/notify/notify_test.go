package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	sent []Notification
	err  error
}

func (s *recordingSink) Send(_ context.Context, n Notification) error {
	s.sent = append(s.sent, n)
	return s.err
}

func TestDispatch_StampsAndSendsAll(t *testing.T) {
	sink := &recordingSink{}
	user := uuid.New()

	Dispatch(context.Background(), sink,
		Notification{Event: EventEscrowFunded, UserID: user},
		Notification{Event: EventEscrowReleased, UserID: user},
	)

	require.Len(t, sink.sent, 2)
	assert.Equal(t, EventEscrowFunded, sink.sent[0].Event)
	assert.False(t, sink.sent[0].SentAt.IsZero())
}

func TestDispatch_SinkErrorsAreSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}

	assert.NotPanics(t, func() {
		Dispatch(context.Background(), sink, Notification{Event: EventDisputeOpened})
	})
	assert.Len(t, sink.sent, 1)
}

func TestDispatch_NilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		Dispatch(context.Background(), nil, Notification{Event: EventDisputeOpened})
	})
}

func TestHandleDelivery(t *testing.T) {
	var got Notification
	handler := func(_ context.Context, n Notification) error {
		got = n
		return nil
	}

	err := handleDelivery(context.Background(), []byte(`{"event":"dispute.resolved","message":"done"}`), handler)
	require.NoError(t, err)
	assert.Equal(t, EventDisputeResolved, got.Event)
	assert.Equal(t, "done", got.Message)

	err = handleDelivery(context.Background(), []byte(`not json`), handler)
	assert.Error(t, err)
}
