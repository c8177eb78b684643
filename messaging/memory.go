package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryMessenger delivers messages in-process. Each send is recorded per
// recipient and also published on a buffered delivery channel so callers get
// an observable handle on outbound traffic instead of fire-and-forget tasks.
type MemoryMessenger struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	byRecip   map[string][]Message
	delivered chan Message
	closed    bool
}

// MemoryMessengerOptions configures a MemoryMessenger.
type MemoryMessengerOptions struct {
	// DeliveryBuffer is the capacity of the Delivered channel (default 256).
	// When the buffer is full the channel publish is dropped; the per
	// recipient record is always kept.
	DeliveryBuffer int
	Logger         *zap.Logger
}

// NewMemoryMessenger creates an in-memory messenger.
func NewMemoryMessenger(opts MemoryMessengerOptions) *MemoryMessenger {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DeliveryBuffer <= 0 {
		opts.DeliveryBuffer = 256
	}
	return &MemoryMessenger{
		logger:    opts.Logger.With(zap.String("component", "memory_messenger")),
		byRecip:   make(map[string][]Message),
		delivered: make(chan Message, opts.DeliveryBuffer),
	}
}

// Send records the message and publishes it on the delivery channel.
func (m *MemoryMessenger) Send(ctx context.Context, opts SendOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg := Message{
		ID:          "msg_" + uuid.NewString(),
		SenderID:    opts.SenderID,
		RecipientID: opts.RecipientID,
		Type:        opts.Type,
		Content:     opts.Content,
		ContextID:   opts.ContextID,
		SentAt:      time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrMessengerClosed
	}
	m.byRecip[opts.RecipientID] = append(m.byRecip[opts.RecipientID], msg)

	select {
	case m.delivered <- msg:
	default:
		m.logger.Warn("delivery channel full, observer missed message",
			zap.String("message_id", msg.ID),
			zap.String("recipient", msg.RecipientID),
		)
	}

	m.logger.Debug("message sent",
		zap.String("message_id", msg.ID),
		zap.String("recipient", msg.RecipientID),
		zap.String("type", string(msg.Type)),
	)
	return msg.ID, nil
}

// Delivered exposes the observable delivery channel.
func (m *MemoryMessenger) Delivered() <-chan Message {
	return m.delivered
}

// Inbox returns a copy of all messages sent to a recipient, in send order.
func (m *MemoryMessenger) Inbox(recipientID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.byRecip[recipientID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Reset drops all recorded messages.
func (m *MemoryMessenger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRecip = make(map[string][]Message)
}

// Close stops accepting sends and closes the delivery channel.
func (m *MemoryMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.delivered)
	return nil
}
