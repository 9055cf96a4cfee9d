package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/ride-compare/rideops/internal/logging"
)

// GetSecretValueAPI is the subset of the Secrets Manager client used here.
type GetSecretValueAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Manager reads secrets from AWS Secrets Manager.
type Manager struct {
	client GetSecretValueAPI
}

// NewManager creates a Manager over client.
func NewManager(client GetSecretValueAPI) *Manager {
	return &Manager{client: client}
}

// GetString returns the raw string value of a secret.
func (m *Manager) GetString(ctx context.Context, secretID string) (string, error) {
	logging.Debug("fetching secret", "secret_id", "[REDACTED]")

	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret has no string value")
	}
	return *out.SecretString, nil
}

// Password resolves a password secret. A JSON object secret must carry a "password"
// key; any other value is used verbatim.
func (m *Manager) Password(ctx context.Context, secretID string) (string, error) {
	raw, err := m.GetString(ctx, secretID)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw, nil
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return "", fmt.Errorf("failed to parse secret JSON: %w", err)
	}
	password, ok := fields["password"]
	if !ok || password == "" {
		return "", fmt.Errorf("secret JSON has no password field")
	}
	return password, nil
}
