package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"support-inbox-ai/internal/bus"
	"support-inbox-ai/internal/domain"
)

func messageRecord(seq, sk, convID, role string) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:   "evt-" + seq,
		EventName: string(events.DynamoDBOperationTypeInsert),
		Change: events.DynamoDBStreamRecord{
			SequenceNumber: seq,
			NewImage: map[string]events.DynamoDBAttributeValue{
				"PK":             events.NewStringAttribute("CONV#" + convID),
				"SK":             events.NewStringAttribute(sk),
				"conversationId": events.NewStringAttribute(convID),
				"messageId":      events.NewStringAttribute("m-" + seq),
				"senderRole":     events.NewStringAttribute(role),
				"content":        events.NewStringAttribute("hello"),
				"createdAt":      events.NewStringAttribute("2024-05-01T12:00:00Z"),
			},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewStreamHandler_RequiresNext(t *testing.T) {
	_, err := NewStreamHandler(nil, nil)
	require.Error(t, err)
}

func TestStreamHandler_ForwardsMessageInserts(t *testing.T) {
	var got []bus.MessageCreated
	s, err := NewStreamHandler(func(_ context.Context, evt bus.MessageCreated) error {
		got = append(got, evt)
		return nil
	}, discardLogger())
	require.NoError(t, err)

	modify := messageRecord("2", "MSG#2024-05-01T12:00:00.000000000Z#m-2", "c1", "customer")
	modify.EventName = string(events.DynamoDBOperationTypeModify)

	resp, err := s.Handle(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		messageRecord("1", "MSG#2024-05-01T12:00:00.000000000Z#m-1", "c1", "customer"),
		modify,
		messageRecord("3", "META#", "c1", "customer"),
		messageRecord("4", "MSG#2024-05-01T12:00:01.000000000Z#m-4", "c2", "agent"),
	}})
	require.NoError(t, err)
	require.Empty(t, resp.BatchItemFailures)

	require.Equal(t, []bus.MessageCreated{
		{Type: bus.TypeMessageCreated, ConversationID: "c1", MessageID: "m-1", SenderRole: domain.SenderCustomer, CreatedAt: 1714564800},
		{Type: bus.TypeMessageCreated, ConversationID: "c2", MessageID: "m-4", SenderRole: domain.SenderAgent, CreatedAt: 1714564800},
	}, got)
}

func TestStreamHandler_SkipsMalformedRecords(t *testing.T) {
	calls := 0
	s, err := NewStreamHandler(func(context.Context, bus.MessageCreated) error {
		calls++
		return nil
	}, discardLogger())
	require.NoError(t, err)

	badRole := messageRecord("1", "MSG#x#m-1", "c1", "bot")
	badTime := messageRecord("2", "MSG#x#m-2", "c1", "customer")
	badTime.Change.NewImage["createdAt"] = events.NewStringAttribute("yesterday")

	resp, err := s.Handle(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{badRole, badTime}})
	require.NoError(t, err)
	require.Empty(t, resp.BatchItemFailures)
	require.Zero(t, calls)
}

func TestStreamHandler_ReportsFailedRecords(t *testing.T) {
	s, err := NewStreamHandler(func(_ context.Context, evt bus.MessageCreated) error {
		if evt.ConversationID == "c2" {
			return errors.New("cache unavailable")
		}
		return nil
	}, discardLogger())
	require.NoError(t, err)

	resp, err := s.Handle(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		messageRecord("1", "MSG#a#m-1", "c1", "customer"),
		messageRecord("2", "MSG#b#m-2", "c2", "customer"),
	}})
	require.NoError(t, err)
	require.Equal(t, []events.DynamoDBBatchItemFailure{{ItemIdentifier: "2"}}, resp.BatchItemFailures)
}
