package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMessenger_Send(t *testing.T) {
	m := NewMemoryMessenger(MemoryMessengerOptions{})
	defer m.Close()

	id, err := m.Send(context.Background(), SendOptions{
		SenderID:    "member_a",
		RecipientID: "member_b",
		Type:        TypeQuestion,
		Content:     "where is the runbook?",
		ContextID:   "conv_1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	inbox := m.Inbox("member_b")
	require.Len(t, inbox, 1)
	assert.Equal(t, id, inbox[0].ID)
	assert.Equal(t, TypeQuestion, inbox[0].Type)
	assert.Equal(t, "where is the runbook?", inbox[0].Content)
	assert.Empty(t, m.Inbox("member_a"))
}

func TestMemoryMessenger_Delivered(t *testing.T) {
	m := NewMemoryMessenger(MemoryMessengerOptions{DeliveryBuffer: 4})
	defer m.Close()

	_, err := m.Send(context.Background(), SendOptions{RecipientID: "r", Type: TypeAnswer, Content: "42"})
	require.NoError(t, err)

	select {
	case msg := <-m.Delivered():
		assert.Equal(t, "r", msg.RecipientID)
		assert.Equal(t, TypeAnswer, msg.Type)
	default:
		t.Fatal("expected a delivered message")
	}
}

func TestMemoryMessenger_SendAfterClose(t *testing.T) {
	m := NewMemoryMessenger(MemoryMessengerOptions{})
	require.NoError(t, m.Close())

	_, err := m.Send(context.Background(), SendOptions{RecipientID: "r", Type: TypeQuestion})
	assert.ErrorIs(t, err, ErrMessengerClosed)

	// Close is idempotent.
	assert.NoError(t, m.Close())
}

func TestMemoryMessenger_Reset(t *testing.T) {
	m := NewMemoryMessenger(MemoryMessengerOptions{})
	defer m.Close()

	_, err := m.Send(context.Background(), SendOptions{RecipientID: "r", Type: TypeFollowUp})
	require.NoError(t, err)
	m.Reset()
	assert.Empty(t, m.Inbox("r"))
}

func TestMemoryMessenger_CancelledContext(t *testing.T) {
	m := NewMemoryMessenger(MemoryMessengerOptions{})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Send(ctx, SendOptions{RecipientID: "r", Type: TypeQuestion})
	assert.ErrorIs(t, err, context.Canceled)
}
