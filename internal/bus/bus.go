// Package bus carries conversation events between the message-creation path
// and the components that react to new content.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"support-inbox-ai/internal/domain"
)

const TypeMessageCreated = "message.created"

// MessageCreated is published after a message is recorded.
type MessageCreated struct {
	Type           string            `json:"type"`
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id,omitempty"`
	SenderRole     domain.SenderRole `json:"sender_role"`
	CreatedAt      int64             `json:"created_at"`
}

// NewMessageCreated builds the event for msg.
func NewMessageCreated(msg domain.Message) MessageCreated {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return MessageCreated{
		Type:           TypeMessageCreated,
		ConversationID: msg.ConversationID,
		MessageID:      msg.MessageID,
		SenderRole:     msg.SenderRole,
		CreatedAt:      created.Unix(),
	}
}

// Validate checks the fields subscribers depend on.
func (e MessageCreated) Validate() error {
	if e.ConversationID == "" {
		return errors.New("bus: conversation id is required")
	}
	if !e.SenderRole.Valid() {
		return fmt.Errorf("bus: unknown sender role %q", e.SenderRole)
	}
	return nil
}

// Publisher delivers MessageCreated events.
type Publisher interface {
	Publish(ctx context.Context, evt MessageCreated) error
}

// HandlerFunc reacts to a MessageCreated event.
type HandlerFunc func(ctx context.Context, evt MessageCreated) error

// Dispatcher is an in-process Publisher that calls every subscriber in
// registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Subscribe(h HandlerFunc) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// Publish runs all subscribers, even after one fails, and joins their errors.
func (d *Dispatcher) Publish(ctx context.Context, evt MessageCreated) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	d.mu.RLock()
	handlers := append([]HandlerFunc(nil), d.handlers...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fanout publishes to several publishers, joining their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt MessageCreated) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
