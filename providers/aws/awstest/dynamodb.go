package awstest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
)

// SecretsManager fakes secret lookups.
type SecretsManager struct {
	*backend
	secrets map[string]string
}

// AddSecret stores a secret string under id.
func (s *SecretsManager) AddSecret(id, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[id] = value
}

func (s *SecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("GetSecretValue"); err != nil {
		return nil, err
	}
	v, ok := s.secrets[deref(params.SecretId)]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{Message: strPtr("Secrets Manager can't find the specified secret.")}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: strPtr(v)}, nil
}

// reservedWords are the DynamoDB reserved words the lock attributes collide with.
var reservedWords = map[string]bool{"OWNER": true, "EXPIRES": true, "KEY": true, "NAME": true}

// DynamoDB fakes single-key tables with the condition expressions a lock needs:
// attribute_not_exists, = and <, joined by OR.
type DynamoDB struct {
	*backend
	tables map[string]*table
}

type table struct {
	key   string
	items map[string]map[string]dbtypes.AttributeValue
}

// AddTable creates a table whose partition key is the string attribute key.
func (d *DynamoDB) AddTable(name, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &table{key: key, items: make(map[string]map[string]dbtypes.AttributeValue)}
}

// Item returns a copy of the string and number attributes of an item.
func (d *DynamoDB) Item(tableName, key string) map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[tableName]
	if !ok {
		return nil
	}
	item, ok := t.items[key]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(item))
	for k, v := range item {
		out[k] = scalar(v)
	}
	return out
}

func (d *DynamoDB) lookupTable(name *string) (*table, error) {
	t, ok := d.tables[deref(name)]
	if !ok {
		return nil, &dbtypes.ResourceNotFoundException{Message: strPtr("Requested resource not found")}
	}
	return t, nil
}

func (d *DynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("PutItem"); err != nil {
		return nil, err
	}
	t, err := d.lookupTable(params.TableName)
	if err != nil {
		return nil, err
	}
	key := scalar(params.Item[t.key])
	ok, err := evaluate(deref(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, t.items[key])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	t.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (d *DynamoDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("DeleteItem"); err != nil {
		return nil, err
	}
	t, err := d.lookupTable(params.TableName)
	if err != nil {
		return nil, err
	}
	key := scalar(params.Key[t.key])
	ok, err := evaluate(deref(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, t.items[key])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	delete(t.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func scalar(av dbtypes.AttributeValue) string {
	switch v := av.(type) {
	case *dbtypes.AttributeValueMemberS:
		return v.Value
	case *dbtypes.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func validation(format string, args ...any) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: fmt.Sprintf(format, args...)}
}

// evaluate checks cond against item. An empty condition always holds.
func evaluate(cond string, names map[string]string, values map[string]dbtypes.AttributeValue, item map[string]dbtypes.AttributeValue) (bool, error) {
	if cond == "" {
		return true, nil
	}
	attr := func(token string) (string, error) {
		if strings.HasPrefix(token, "#") {
			name, ok := names[token]
			if !ok {
				return "", validation("An expression attribute name used in the document path is not defined; attribute name: %s", token)
			}
			return name, nil
		}
		if reservedWords[strings.ToUpper(token)] {
			return "", validation("Attribute name is a reserved keyword; reserved keyword: %s", token)
		}
		return token, nil
	}

	for _, clause := range strings.Split(cond, " OR ") {
		clause = strings.TrimSpace(clause)
		if inner, ok := strings.CutPrefix(clause, "attribute_not_exists("); ok {
			name, err := attr(strings.TrimSuffix(inner, ")"))
			if err != nil {
				return false, err
			}
			if _, exists := item[name]; !exists {
				return true, nil
			}
			continue
		}

		fields := strings.Fields(clause)
		if len(fields) != 3 {
			return false, validation("Invalid ConditionExpression: %s", clause)
		}
		name, err := attr(fields[0])
		if err != nil {
			return false, err
		}
		want, ok := values[fields[2]]
		if !ok {
			return false, validation("An expression attribute value used in expression is not defined; attribute value: %s", fields[2])
		}
		have, exists := item[name]
		if !exists {
			continue
		}
		switch fields[1] {
		case "=":
			if scalar(have) == scalar(want) {
				return true, nil
			}
		case "<":
			h, herr := strconv.ParseFloat(scalar(have), 64)
			w, werr := strconv.ParseFloat(scalar(want), 64)
			if herr == nil && werr == nil && h < w {
				return true, nil
			}
		default:
			return false, validation("Invalid operator %s", fields[1])
		}
	}
	return false, nil
}
