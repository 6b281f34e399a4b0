package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Message{Type: TypeNotification, Body: []byte(`{"id":"n1"}`)}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, TypeNotification, msg.Type)
		assert.JSONEq(t, `{"id":"n1"}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	for range msgs {
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "x"}), context.DeadlineExceeded)
}

func TestEnvelope(t *testing.T) {
	s, err := Encode(Message{Type: TypeNotification, Body: []byte(`{"title":"a|b"}`)})
	require.NoError(t, err)

	msg, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, TypeNotification, msg.Type)
	assert.JSONEq(t, `{"title":"a|b"}`, string(msg.Body))

	_, err = Decode("checkin|1234")
	assert.Error(t, err)
	_, err = Decode(`{"body":{}}`)
	assert.Error(t, err)
}
