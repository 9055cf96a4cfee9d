// Package lock serializes rideops runs against one account and region with a
// DynamoDB lock item.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/ride-compare/rideops/internal/logging"
)

// DefaultTTL is how long a lock is honored before another run may take it over.
const DefaultTTL = 30 * time.Minute

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("another rideops run holds the lock")

// DynamoDBAPI is the part of the DynamoDB client the lock needs.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// item is the stored lock record.
type item struct {
	LockID  string `dynamodbav:"LockID"`
	Owner   string `dynamodbav:"Owner"`
	Created string `dynamodbav:"Created"`
	Expires int64  `dynamodbav:"Expires"`
}

// Lock is a single lock item keyed by LockID.
type Lock struct {
	client DynamoDBAPI
	table  string
	key    string
	owner  string
	ttl    time.Duration
	now    func() time.Time
}

// New returns a lock on key in table. The table's partition key must be the string attribute LockID.
func New(client DynamoDBAPI, table, key string) *Lock {
	host, _ := os.Hostname()
	return &Lock{
		client: client,
		table:  table,
		key:    key,
		owner:  fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
}

// Key returns the lock key of a region and optional namespace.
func Key(region, namespace string) string {
	if namespace == "" {
		namespace = "default"
	}
	return "rideops/" + region + "/" + namespace
}

// Acquire takes the lock. An expired lock left by a crashed run is taken over.
func (l *Lock) Acquire(ctx context.Context) error {
	now := l.now().UTC()
	av, err := attributevalue.MarshalMap(item{
		LockID:  l.key,
		Owner:   l.owner,
		Created: now.Format(time.RFC3339),
		Expires: now.Add(l.ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal lock item: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item:      av,
		ConditionExpression: aws.String("attribute_not_exists(#lock) OR #expires < :now"),
		ExpressionAttributeNames: map[string]string{
			"#lock":    "LockID",
			"#expires": "Expires",
		},
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":now": &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: if this is an error, delete the item with LockID=%q from DynamoDB table %q", ErrLocked, l.key, l.table)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	logging.Debug("acquired lock", "table", l.table, "key", l.key)
	return nil
}

// Release deletes the lock item if this run still owns it.
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: l.key},
		},
		// OWNER is a reserved word, so the attribute goes through a placeholder.
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "Owner"},
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":owner": &dbtypes.AttributeValueMemberS{Value: l.owner},
		},
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			logging.Warn("lock was taken over by another run", "table", l.table, "key", l.key)
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	logging.Debug("released lock", "table", l.table, "key", l.key)
	return nil
}
