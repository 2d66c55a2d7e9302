package runlock

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

	"github.com/jun/invoicescout/internal/model"
)

// leasePartition holds leases in the result table, next to the sheet partitions.
const leasePartition = "__leases__"

// Client is the subset of *dynamodb.Client used by DynamoLocker.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type leaseItem struct {
	PK string `dynamodbav:"pk"`
	model.RunLease
}

// DynamoLocker keeps leases in a DynamoDB table with pk/sk keys.
type DynamoLocker struct {
	client Client
	table  string
	ttl    time.Duration
	now    func() time.Time
}

// NewDynamoLocker creates a DynamoLocker on table.
func NewDynamoLocker(client Client, table string) *DynamoLocker {
	return &DynamoLocker{client: client, table: table, ttl: DefaultTTL, now: time.Now}
}

func (m *DynamoLocker) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: leasePartition},
		"sk": &types.AttributeValueMemberS{Value: key},
	}
}

func unix(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Acquire takes the lease with a conditional put.
func (m *DynamoLocker) Acquire(ctx context.Context, key, owner string) (model.RunLease, error) {
	now := m.now()
	lease := model.RunLease{Key: key, Owner: owner, ExpiresAt: expiry(now, m.ttl)}

	item, err := attributevalue.MarshalMap(leaseItem{PK: leasePartition, RunLease: lease})
	if err != nil {
		return model.RunLease{}, fmt.Errorf("failed to marshal lease: %w", err)
	}
	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(m.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(sk) OR expires_at < :now OR #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   unix(now.Unix()),
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return model.RunLease{}, fmt.Errorf("%s: %w", key, ErrHeld)
		}
		return model.RunLease{}, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return lease, nil
}

// Heartbeat pushes the expiry forward.
func (m *DynamoLocker) Heartbeat(ctx context.Context, key, owner string) (model.RunLease, error) {
	out, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(m.table),
		Key:                 m.key(key),
		UpdateExpression:    aws.String("SET expires_at = :expires_at"),
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expires_at": unix(expiry(m.now(), m.ttl)),
			":owner":      &types.AttributeValueMemberS{Value: owner},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if conditionFailed(err) {
			return model.RunLease{}, fmt.Errorf("%s: %w", key, ErrNotOwner)
		}
		return model.RunLease{}, fmt.Errorf("failed to send heartbeat: %w", err)
	}
	var lease model.RunLease
	if err := attributevalue.UnmarshalMap(out.Attributes, &lease); err != nil {
		return model.RunLease{}, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	return lease, nil
}

// Release deletes the lease if owner holds it.
func (m *DynamoLocker) Release(ctx context.Context, key, owner string) error {
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(m.table),
		Key:                 m.key(key),
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("%s: %w", key, ErrNotOwner)
		}
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// Status reads the lease; an expired one reports as absent.
func (m *DynamoLocker) Status(ctx context.Context, key string) (model.RunLease, bool, error) {
	out, err := m.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(m.table),
		Key:       m.key(key),
	})
	if err != nil {
		return model.RunLease{}, false, fmt.Errorf("failed to get lease: %w", err)
	}
	if out.Item == nil {
		return model.RunLease{}, false, nil
	}
	var lease model.RunLease
	if err := attributevalue.UnmarshalMap(out.Item, &lease); err != nil {
		return model.RunLease{}, false, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	if lease.ExpiresAt < m.now().Unix() {
		return model.RunLease{}, false, nil
	}
	return lease, true, nil
}
