package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	values map[string]*string
	calls  int
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	v, ok := f.values[aws.ToString(params.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException: secret not found")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: v}, nil
}

func TestPassword(t *testing.T) {
	fake := &fakeSecrets{values: map[string]*string{
		"plain":    aws.String("hunter2"),
		"json":     aws.String(`{"username":"rides","password":"from-json"}`),
		"json-bad": aws.String(`{"username":"rides"}`),
		"binary":   nil,
	}}
	m := NewManager(fake)
	ctx := context.Background()

	pw, err := m.Password(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)

	pw, err = m.Password(ctx, "json")
	require.NoError(t, err)
	assert.Equal(t, "from-json", pw)

	_, err = m.Password(ctx, "json-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no password field")

	_, err = m.Password(ctx, "binary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no string value")

	_, err = m.Password(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to retrieve secret")
	assert.Equal(t, 5, fake.calls)
}
