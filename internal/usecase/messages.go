package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"support-inbox-ai/internal/bus"
	"support-inbox-ai/internal/domain"
)

type MessageWriter interface {
	WriteMessage(ctx context.Context, msg domain.Message) error
}

type RecordMessageInput struct {
	ConversationID string
	SenderRole     string
	Content        string
}

// MessageService records conversation messages and announces them on the bus.
type MessageService struct {
	messages  MessageWriter
	publisher bus.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewMessageService(w MessageWriter, p bus.Publisher, logger *slog.Logger) (*MessageService, error) {
	if w == nil {
		return nil, errors.New("usecase: message writer must not be nil")
	}
	if p == nil {
		return nil, errors.New("usecase: publisher must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{messages: w, publisher: p, logger: logger, now: time.Now}, nil
}

// Record stores the message, then publishes MessageCreated. A publish failure
// is logged and does not fail the write.
func (s *MessageService) Record(ctx context.Context, in RecordMessageInput) (domain.Message, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return domain.Message{}, newError(ErrorInvalidInput, ReasonMissingConversation, nil)
	}
	role := domain.SenderRole(strings.ToLower(strings.TrimSpace(in.SenderRole)))
	if !role.Valid() {
		return domain.Message{}, newError(ErrorInvalidInput, ReasonInvalidSenderRole, nil)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return domain.Message{}, newError(ErrorInvalidInput, ReasonEmptyContent, nil)
	}

	msg := domain.Message{
		ConversationID: convID,
		MessageID:      newUUID(),
		SenderRole:     role,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.messages.WriteMessage(ctx, msg); err != nil {
		return domain.Message{}, newError(ErrorInternal, ReasonMessageWrite, err)
	}

	if err := s.publisher.Publish(ctx, bus.NewMessageCreated(msg)); err != nil {
		s.logger.Warn("failed to publish message created event",
			"conversation_id", convID,
			"message_id", msg.MessageID,
			"err", err,
		)
	}
	return msg, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
