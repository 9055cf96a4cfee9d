package lock

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTable evaluates the two condition expressions the lock uses. Like DynamoDB,
// it rejects expressions naming reserved words without a placeholder.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]dbtypes.AttributeValue
	err   error

	conditions []string
	names      []map[string]string
}

var reservedWords = []string{"Owner", "Expires"}

func (f *fakeTable) checkExpression(cond string, names map[string]string) error {
	f.conditions = append(f.conditions, cond)
	f.names = append(f.names, names)
	for _, word := range strings.FieldsFunc(cond, func(r rune) bool {
		return r == ' ' || r == '(' || r == ')'
	}) {
		for _, reserved := range reservedWords {
			if strings.EqualFold(word, reserved) {
				return &smithy.GenericAPIError{Code: "ValidationException", Message: "reserved keyword: " + word}
			}
		}
		if strings.HasPrefix(word, "#") && names[word] == "" {
			return &smithy.GenericAPIError{Code: "ValidationException", Message: "undefined attribute name " + word}
		}
	}
	return nil
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[string]dbtypes.AttributeValue)}
}

func str(av dbtypes.AttributeValue) string {
	switch v := av.(type) {
	case *dbtypes.AttributeValueMemberS:
		return v.Value
	case *dbtypes.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func num(av dbtypes.AttributeValue) int64 {
	n, _ := strconv.ParseInt(str(av), 10, 64)
	return n
}

func (f *fakeTable) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if err := f.checkExpression(*params.ConditionExpression, params.ExpressionAttributeNames); err != nil {
		return nil, err
	}
	key := str(params.Item["LockID"])
	if cur, ok := f.items[key]; ok && num(cur["Expires"]) >= num(params.ExpressionAttributeValues[":now"]) {
		return nil, &dbtypes.ConditionalCheckFailedException{}
	}
	f.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkExpression(*params.ConditionExpression, params.ExpressionAttributeNames); err != nil {
		return nil, err
	}
	key := str(params.Key["LockID"])
	cur, ok := f.items[key]
	if !ok || str(cur["Owner"]) != str(params.ExpressionAttributeValues[":owner"]) {
		return nil, &dbtypes.ConditionalCheckFailedException{}
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestKey(t *testing.T) {
	assert.Equal(t, "rideops/us-east-1/default", Key("us-east-1", ""))
	assert.Equal(t, "rideops/eu-west-1/dev", Key("eu-west-1", "dev"))
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	key := Key("us-east-1", "")

	first := New(table, "rideops-locks", key)
	second := New(table, "rideops-locks", key)

	require.NoError(t, first.Acquire(ctx))

	err := second.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), "rideops-locks")

	// Only the owner's release removes the item.
	require.NoError(t, second.Release(ctx))
	assert.Len(t, table.items, 1)

	require.NoError(t, first.Release(ctx))
	assert.Empty(t, table.items)
	require.NoError(t, second.Acquire(ctx))
}

func TestAcquire_ExpiredLockTakenOver(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	key := Key("us-east-1", "")

	crashed := New(table, "rideops-locks", key)
	crashed.now = func() time.Time { return time.Now().Add(-2 * DefaultTTL) }
	require.NoError(t, crashed.Acquire(ctx))

	next := New(table, "rideops-locks", key)
	require.NoError(t, next.Acquire(ctx))
	assert.Equal(t, next.owner, str(table.items[key]["Owner"]))
}

func TestAcquire_OtherError(t *testing.T) {
	table := newFakeTable()
	table.err = &dbtypes.ResourceNotFoundException{Message: new(string)}

	err := New(table, "missing", "k").Acquire(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), "failed to acquire lock")
}

func TestExpressions_UseNamePlaceholders(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	l := New(table, "rideops-locks", Key("us-east-1", ""))

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Release(ctx))
	assert.Empty(t, table.items)

	require.Len(t, table.conditions, 2)
	assert.Equal(t, "attribute_not_exists(#lock) OR #expires < :now", table.conditions[0])
	assert.Equal(t, map[string]string{"#lock": "LockID", "#expires": "Expires"}, table.names[0])
	assert.Equal(t, "#owner = :owner", table.conditions[1])
	assert.Equal(t, map[string]string{"#owner": "Owner"}, table.names[1])
}
