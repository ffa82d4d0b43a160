package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"support-inbox-ai/internal/bus"
	"support-inbox-ai/internal/domain"
	"support-inbox-ai/internal/repository"
)

// StreamHandler turns DynamoDB stream inserts of message items into
// MessageCreated events.
type StreamHandler struct {
	next   bus.HandlerFunc
	logger *slog.Logger
}

func NewStreamHandler(next bus.HandlerFunc, logger *slog.Logger) (*StreamHandler, error) {
	if next == nil {
		return nil, errors.New("handler: stream event handler must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{next: next, logger: logger}, nil
}

// Handle reports records whose handling failed as batch item failures so the
// stream retries only those. Records that can never succeed are logged and
// skipped.
func (s *StreamHandler) Handle(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, record := range event.Records {
		if record.EventName != string(events.DynamoDBOperationTypeInsert) {
			continue
		}
		image := record.Change.NewImage
		if !repository.IsMessageSortKey(streamString(image, "SK")) {
			continue
		}

		evt, err := messageCreatedFromImage(image)
		if err != nil {
			s.logger.Warn("skipping malformed message record",
				"event_id", record.EventID,
				"err", err,
			)
			continue
		}
		if err := s.next(ctx, evt); err != nil {
			s.logger.Error("failed to handle message record",
				"event_id", record.EventID,
				"conversation_id", evt.ConversationID,
				"err", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: record.Change.SequenceNumber,
			})
		}
	}
	return resp, nil
}

func messageCreatedFromImage(image map[string]events.DynamoDBAttributeValue) (bus.MessageCreated, error) {
	evt := bus.MessageCreated{
		Type:           bus.TypeMessageCreated,
		ConversationID: streamString(image, "conversationId"),
		MessageID:      streamString(image, "messageId"),
		SenderRole:     domain.SenderRole(streamString(image, "senderRole")),
	}
	if raw := streamString(image, "createdAt"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return bus.MessageCreated{}, fmt.Errorf("handler: parse createdAt: %w", err)
		}
		evt.CreatedAt = ts.Unix()
	}
	if err := evt.Validate(); err != nil {
		return bus.MessageCreated{}, err
	}
	return evt, nil
}

func streamString(image map[string]events.DynamoDBAttributeValue, key string) string {
	av, ok := image[key]
	if !ok || av.DataType() != events.DataTypeString {
		return ""
	}
	return av.String()
}
