package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"support-inbox-ai/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	skInsight   = "INSIGHT#"

	// Fixed-width so sort keys order the same way as timestamps.
	sortTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ReadWriter defines the conversation state operations used by the services
// and the operator CLI.
type ReadWriter interface {
	LoadMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	WriteMessage(ctx context.Context, msg domain.Message) error
	UpdateConversationFields(ctx context.Context, conversationID string, fields domain.ConversationFields) error
	UpsertInsight(ctx context.Context, insight domain.Insight) error
	GetConversationFields(ctx context.Context, conversationID string) (domain.ConversationFields, error)
	GetInsight(ctx context.Context, conversationID string) (domain.Insight, bool, error)
}

// Client wraps a DynamoDB table for conversation state.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK orders messages by creation time; the message id breaks ties.
func msgSK(ts time.Time, messageID string) string {
	return skPrefixMsg + ts.UTC().Format(sortTimeLayout) + "#" + messageID
}

// IsMessageSortKey reports whether sk belongs to a message item.
func IsMessageSortKey(sk string) bool {
	return strings.HasPrefix(sk, skPrefixMsg)
}

// LoadMessages queries the newest limit MSG# items and returns them in
// chronological order.
func (c *Client) LoadMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: LoadMessages query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := ItemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: LoadMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// WriteMessage persists a new message record. A message id is never written
// twice.
func (c *Client) WriteMessage(ctx context.Context, msg domain.Message) error {
	if msg.ConversationID == "" || msg.MessageID == "" {
		return errors.New("repository: WriteMessage: conversation id and message id are required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now().UTC()
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: WriteMessage: %w", err)
	}
	return nil
}

// UpdateConversationFields sets the non-nil fields on the META# record,
// creating it if needed.
func (c *Client) UpdateConversationFields(ctx context.Context, conversationID string, fields domain.ConversationFields) error {
	if fields.Empty() {
		return nil
	}

	values := map[string]types.AttributeValue{
		":updatedAt": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		":cid":       &types.AttributeValueMemberS{Value: conversationID},
	}
	sets := []string{"updatedAt = :updatedAt", "conversationId = :cid"}
	if fields.IssueCategory != nil {
		sets = append(sets, "issueCategory = :issue")
		values[":issue"] = &types.AttributeValueMemberS{Value: *fields.IssueCategory}
	}
	if fields.Sentiment != nil {
		sets = append(sets, "sentiment = :sentiment")
		values[":sentiment"] = &types.AttributeValueMemberS{Value: *fields.Sentiment}
	}
	if fields.SentimentScore != nil {
		sets = append(sets, "sentimentScore = :score")
		values[":score"] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(*fields.SentimentScore, 'f', -1, 64)}
	}
	if fields.Priority != nil {
		sets = append(sets, "priority = :priority")
		values[":priority"] = &types.AttributeValueMemberS{Value: *fields.Priority}
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       itemKey(convPK(conversationID), skMeta),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateConversationFields: %w", err)
	}
	return nil
}

// UpsertInsight writes or replaces the conversation's INSIGHT# record.
func (c *Client) UpsertInsight(ctx context.Context, insight domain.Insight) error {
	if insight.ConversationID == "" {
		return errors.New("repository: UpsertInsight: conversation id is required")
	}
	if insight.AnalyzedAt.IsZero() {
		insight.AnalyzedAt = c.now().UTC()
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":             &types.AttributeValueMemberS{Value: convPK(insight.ConversationID)},
			"SK":             &types.AttributeValueMemberS{Value: skInsight},
			"conversationId": &types.AttributeValueMemberS{Value: insight.ConversationID},
			"summary":        &types.AttributeValueMemberS{Value: insight.Summary},
			"analyzedAt":     &types.AttributeValueMemberS{Value: insight.AnalyzedAt.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertInsight: %w", err)
	}
	return nil
}

// GetConversationFields returns the stored analysis fields. A missing record
// yields empty fields.
func (c *Client) GetConversationFields(ctx context.Context, conversationID string) (domain.ConversationFields, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(convPK(conversationID), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationFields{}, fmt.Errorf("repository: GetConversationFields get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationFields{}, nil
	}

	var fields domain.ConversationFields
	if s, err := strAttr(out.Item, "issueCategory"); err == nil {
		fields.IssueCategory = &s
	}
	if s, err := strAttr(out.Item, "sentiment"); err == nil {
		fields.Sentiment = &s
	}
	if s, err := strAttr(out.Item, "priority"); err == nil {
		fields.Priority = &s
	}
	if _, ok := out.Item["sentimentScore"]; ok {
		score, err := floatAttr(out.Item, "sentimentScore")
		if err != nil {
			return domain.ConversationFields{}, fmt.Errorf("repository: GetConversationFields decode sentimentScore: %w", err)
		}
		fields.SentimentScore = &score
	}
	return fields, nil
}

// GetInsight returns the stored summary, if any.
func (c *Client) GetInsight(ctx context.Context, conversationID string) (domain.Insight, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(convPK(conversationID), skInsight),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Insight{}, false, fmt.Errorf("repository: GetInsight get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Insight{}, false, nil
	}

	summary, err := strAttr(out.Item, "summary")
	if err != nil {
		return domain.Insight{}, false, fmt.Errorf("repository: GetInsight: %w", err)
	}
	insight := domain.Insight{ConversationID: conversationID, Summary: summary}
	if raw, err := strAttr(out.Item, "analyzedAt"); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			insight.AnalyzedAt = ts
		}
	}
	return insight, true, nil
}

// ItemToMessage converts a DynamoDB attribute map to a Message. It is shared
// with the stream handler, which receives the same item shape.
func ItemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "senderRole")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	messageID, _ := strAttr(item, "messageId") // allow empty

	msg := domain.Message{
		ConversationID: convID,
		MessageID:      messageID,
		SenderRole:     domain.SenderRole(role),
		Content:        content,
	}
	if raw, err := strAttr(item, "createdAt"); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.Message{}, fmt.Errorf("repository: parse createdAt: %w", err)
		}
		msg.CreatedAt = ts
	}
	return msg, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(msg.CreatedAt, msg.MessageID)},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"messageId":      &types.AttributeValueMemberS{Value: msg.MessageID},
		"senderRole":     &types.AttributeValueMemberS{Value: string(msg.SenderRole)},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"createdAt":      &types.AttributeValueMemberS{Value: msg.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func floatAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
