package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
// Tests substitute a fake.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements Store on a DynamoDB table keyed by the string
// partition key "session_key". Conditional writes make PutIf atomic, so
// concurrent version bumps fail loudly instead of clobbering each other.
type DynamoStore struct {
	client DynamoAPI
	table  string
	mu     sync.RWMutex
	closed bool
}

// DynamoConfig holds DynamoDB store configuration.
type DynamoConfig struct {
	// Table is the DynamoDB table name (required).
	Table string
	// Region overrides the default AWS region (optional).
	Region string
}

// NewDynamoStore creates a DynamoDB-backed session store using the default
// AWS credential chain.
func NewDynamoStore(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	if cfg.Table == "" {
		return nil, errors.New("dynamodb table is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &DynamoStore{
		client: dynamodb.NewFromConfig(awsCfg),
		table:  cfg.Table,
	}, nil
}

// NewDynamoStoreFromClient creates a DynamoDB store from an existing client.
// This is useful for testing with a fake DynamoAPI.
func NewDynamoStoreFromClient(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func dynamoKey(sessionKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"session_key": &types.AttributeValueMemberS{Value: sessionKey},
	}
}

// Get retrieves the current record for a key.
func (s *DynamoStore) Get(ctx context.Context, sessionKey string) (*Record, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            dynamoKey(sessionKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if out.Item == nil {
		return nil, ErrRecordNotFound
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}

	return &rec, nil
}

// Put writes a record unconditionally.
func (s *DynamoStore) Put(ctx context.Context, rec *Record) error {
	if err := s.guard(); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}

	return nil
}

// PutIf writes a record only if the stored version matches expectedVersion.
func (s *DynamoStore) PutIf(ctx context.Context, rec *Record, expectedVersion int64) error {
	if err := s.guard(); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}

	if expectedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(session_key)")
	} else {
		input.ConditionExpression = aws.String("version = :expected")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
		}
	}

	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionConflict
		}
		return fmt.Errorf("conditional put item: %w", err)
	}

	return nil
}

// Touch updates only LastActivity on the current record.
func (s *DynamoStore) Touch(ctx context.Context, sessionKey string, now int64) error {
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 dynamoKey(sessionKey),
		UpdateExpression:    aws.String("SET last_activity = :now"),
		ConditionExpression: aws.String("attribute_exists(session_key)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("update item: %w", err)
	}

	return nil
}

// Close marks the store closed. The underlying client holds no connections
// that need releasing.
func (s *DynamoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
