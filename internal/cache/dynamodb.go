package cache

import (
	"context"
	"encoding/json"
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

const skResult = "RESULT"

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDB.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDB is a Store backed by a table with a TTL attribute named "ttl".
// Table TTL deletion lags, so reads also compare ttl against the clock.
type DynamoDB struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

func NewDynamoDB(api dynamodbAPI, tableName string) (*DynamoDB, error) {
	if api == nil {
		return nil, errors.New("cache: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("cache: table name must not be empty")
	}
	return &DynamoDB{api: api, tableName: tableName, now: time.Now}, nil
}

func itemKey(conversationID string, kind domain.Kind) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: Key(conversationID, kind)},
		"SK": &types.AttributeValueMemberS{Value: skResult},
	}
}

func (d *DynamoDB) Has(ctx context.Context, conversationID string, kind domain.Kind) (bool, error) {
	_, ok, err := d.Get(ctx, conversationID, kind)
	return ok, err
}

func (d *DynamoDB) Get(ctx context.Context, conversationID string, kind domain.Kind) (domain.Result, bool, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            itemKey(conversationID, kind),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}

	ttl, ok := out.Item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return nil, false, nil
	}
	expires, err := strconv.ParseInt(ttl.Value, 10, 64)
	if err != nil || expires <= d.now().Unix() {
		return nil, false, nil
	}

	raw, ok := out.Item["result"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, false, fmt.Errorf("cache: Get: attribute %q is not a string", "result")
	}
	var result domain.Result
	if err := json.Unmarshal([]byte(raw.Value), &result); err != nil {
		return nil, false, fmt.Errorf("cache: Get decode: %w", err)
	}
	return result, true, nil
}

func (d *DynamoDB) Put(ctx context.Context, conversationID string, kind domain.Kind, result domain.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache: Put encode: %w", err)
	}
	item := itemKey(conversationID, kind)
	item["result"] = &types.AttributeValueMemberS{Value: string(body)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(d.now().Add(ttl).Unix(), 10)}

	if _, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("cache: Put: %w", err)
	}
	return nil
}

// Forget deletes the entry. Deleting a missing item succeeds in DynamoDB.
func (d *DynamoDB) Forget(ctx context.Context, conversationID string, kind domain.Kind) error {
	if _, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       itemKey(conversationID, kind),
	}); err != nil {
		return fmt.Errorf("cache: Forget: %w", err)
	}
	return nil
}
