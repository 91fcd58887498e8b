package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/soapnote/internal/model"
)

// DynamoClient is the subset of *dynamodb.Client used by LockManager.
type DynamoClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// LockManager handles run locks using DynamoDB TTL.
type LockManager struct {
	client      DynamoClient
	tableName   string
	ttlDuration time.Duration
	now         func() time.Time
}

// NewLockManager creates a new LockManager. A non-positive ttl means DefaultTTL.
func NewLockManager(client DynamoClient, tableName string, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LockManager{
		client:      client,
		tableName:   tableName,
		ttlDuration: ttl,
		now:         time.Now,
	}
}

func (m *LockManager) key(resource string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"resource": &types.AttributeValueMemberS{Value: resource},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (m *LockManager) AcquireLock(ctx context.Context, resource, owner string) (*model.RunLock, error) {
	now := m.now().Unix()
	lock := model.RunLock{
		Resource:  resource,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttlDuration.Seconds()),
	}

	item, err := attributevalue.MarshalMap(lock)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(m.tableName),
		Item:      item,
		ConditionExpression: aws.String(
			"attribute_not_exists(#res) OR expires_at < :now OR #owner = :owner",
		),
		ExpressionAttributeNames: map[string]string{
			"#res":   "resource",
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return &lock, nil
}

func (m *LockManager) Heartbeat(ctx context.Context, resource, owner string) (*model.RunLock, error) {
	expiresAt := m.now().Unix() + int64(m.ttlDuration.Seconds())

	out, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(m.tableName),
		Key:                 m.key(resource),
		UpdateExpression:    aws.String("SET expires_at = :expires_at"),
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
			":owner":      &types.AttributeValueMemberS{Value: owner},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to send heartbeat: %w", err)
	}

	var lock model.RunLock
	if err := attributevalue.UnmarshalMap(out.Attributes, &lock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	return &lock, nil
}

func (m *LockManager) ReleaseLock(ctx context.Context, resource, owner string) error {
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(m.tableName),
		Key:                 m.key(resource),
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrLocked
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (m *LockManager) GetLockStatus(ctx context.Context, resource string) (*model.RunLock, error) {
	out, err := m.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(m.tableName),
		Key:            m.key(resource),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lock status: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var lock model.RunLock
	if err := attributevalue.UnmarshalMap(out.Item, &lock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	// DynamoDB TTL deletion lags; treat expired items as free.
	if lock.ExpiresAt < m.now().Unix() {
		return nil, nil
	}
	return &lock, nil
}
