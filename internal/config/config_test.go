package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, envs := range envBindings {
		for _, name := range envs {
			t.Setenv(name, "")
		}
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("RIDEOPS_BUCKET", "ride-metrics")
	t.Setenv("RIDEOPS_QUEUE_URL", "https://sqs.us-east-1.amazonaws.com/123456789012/ride-requests")
	t.Setenv("RIDEOPS_RABBITMQ_HOST", "b-1234.mq.us-east-1.amazonaws.com")
	t.Setenv("RIDEOPS_RABBITMQ_PASSWORD", "s3cret")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := Load(viper.New(), "", "")
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "ride-request-lambda-role", cfg.Role)
	assert.Equal(t, "ride-metrics", cfg.BucketName)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, "guest", cfg.RabbitMQ.User)
	assert.Equal(t, "ride-requests", cfg.RabbitMQ.Queue)
	assert.Equal(t, "python3.11", cfg.Runtime)
	assert.Equal(t, "rate(1 minute)", cfg.ScheduleExpression)
	assert.Equal(t, int32(10), cfg.BatchSize)
	assert.Equal(t, "prod", cfg.StageName)
	assert.Equal(t, int32(7), cfg.LogRetentionDays)
	assert.Equal(t, 90*time.Second, cfg.WaitTimeout)
	assert.LessOrEqual(t, cfg.WaitTimeout, cfg.OperationTimeout)
	assert.Equal(t, 2*time.Minute, cfg.OperationTimeout)
}

func TestLoad_ScriptEnvironmentNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3_BUCKET_NAME", "legacy-bucket")
	t.Setenv("SQS_QUEUE_URL", "https://sqs.eu-west-1.amazonaws.com/123456789012/q")
	t.Setenv("RABBITMQ_HOST", "rabbit.internal")
	t.Setenv("RABBITMQ_PASSWORD", "pw")
	t.Setenv("RABBITMQ_PORT", "5671")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := Load(viper.New(), "", "")
	require.NoError(t, err)

	assert.Equal(t, "legacy-bucket", cfg.BucketName)
	assert.Equal(t, "rabbit.internal", cfg.RabbitMQ.Host)
	assert.Equal(t, 5671, cfg.RabbitMQ.Port)
	assert.Equal(t, "eu-west-1", cfg.Region)
}

func TestLoad_PrefixedWinsOverScriptName(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("S3_BUCKET_NAME", "legacy-bucket")

	cfg, err := Load(viper.New(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "ride-metrics", cfg.BucketName)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "rideops.yaml")
	content := `
region: ap-southeast-2
namespace: dev
bucket: file-bucket
queue_url: https://sqs.ap-southeast-2.amazonaws.com/123456789012/rides
rabbitmq:
  host: mq.example.com
  password_secret: rideops/rabbitmq
schedule: rate(5 minutes)
log_retention_days: 14
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(viper.New(), path, "")
	require.NoError(t, err)

	assert.Equal(t, "ap-southeast-2", cfg.Region)
	assert.Equal(t, "dev", cfg.Namespace)
	assert.Equal(t, "file-bucket", cfg.BucketName)
	assert.Equal(t, "mq.example.com", cfg.RabbitMQ.Host)
	assert.Equal(t, "rideops/rabbitmq", cfg.RabbitMQ.PasswordSecret)
	assert.Empty(t, cfg.RabbitMQ.Password)
	assert.Equal(t, "rate(5 minutes)", cfg.ScheduleExpression)
	assert.Equal(t, int32(14), cfg.LogRetentionDays)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that are already set, blank ones included.
	for _, name := range []string{"RIDEOPS_BUCKET", "RIDEOPS_QUEUE_URL", "RIDEOPS_RABBITMQ_HOST", "RIDEOPS_RABBITMQ_PASSWORD"} {
		require.NoError(t, os.Unsetenv(name))
		t.Cleanup(func() { os.Unsetenv(name) })
	}

	path := filepath.Join(t.TempDir(), ".env")
	content := "RIDEOPS_BUCKET=dotenv-bucket\n" +
		"RIDEOPS_QUEUE_URL=https://sqs.us-east-1.amazonaws.com/123456789012/q\n" +
		"RIDEOPS_RABBITMQ_HOST=mq\n" +
		"RIDEOPS_RABBITMQ_PASSWORD=pw\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(viper.New(), "", path)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-bucket", cfg.BucketName)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	_, err := Load(viper.New(), "", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Region:             "us-east-1",
			Role:               "role",
			BucketName:         "bucket",
			QueueURL:           "https://sqs.us-east-1.amazonaws.com/123456789012/q",
			RabbitMQ:           RabbitMQConfig{Host: "mq", Port: 5672, User: "guest", Password: "pw", Queue: "ride-requests"},
			CodeDir:            "./build",
			Runtime:            "python3.11",
			ScheduleExpression: "rate(1 minute)",
			BatchSize:          10,
			APIName:            "ride-request-api",
			StageName:          "prod",
			LogRetentionDays:   7,
			WaitTimeout:        time.Minute,
			OperationTimeout:   time.Minute,
			APIRateLimit:       5,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "cron schedule", mutate: func(c *Config) { c.ScheduleExpression = "cron(0 12 * * ? *)" }},
		{name: "missing bucket", mutate: func(c *Config) { c.BucketName = "" }, wantErr: "BucketName"},
		{name: "bad queue url", mutate: func(c *Config) { c.QueueURL = "ride-requests" }, wantErr: "QueueURL"},
		{name: "bad schedule", mutate: func(c *Config) { c.ScheduleExpression = "every minute" }, wantErr: "ScheduleExpression"},
		{name: "batch too large", mutate: func(c *Config) { c.BatchSize = 20000 }, wantErr: "BatchSize"},
		{name: "bad retention", mutate: func(c *Config) { c.LogRetentionDays = 8 }, wantErr: "LogRetentionDays"},
		{name: "no password", mutate: func(c *Config) { c.RabbitMQ.Password = "" }, wantErr: "RabbitMQ.Password"},
		{name: "secret instead of password", mutate: func(c *Config) {
			c.RabbitMQ.Password = ""
			c.RabbitMQ.PasswordSecret = "rideops/rabbitmq"
		}},
		{name: "uppercase namespace", mutate: func(c *Config) { c.Namespace = "Dev" }, wantErr: "Namespace"},
		{name: "bad port", mutate: func(c *Config) { c.RabbitMQ.Port = 0 }, wantErr: "RabbitMQ.Port"},
		{name: "wait longer than operation", mutate: func(c *Config) { c.WaitTimeout = 2 * time.Minute }, wantErr: "WaitTimeout: failed ltefield=OperationTimeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestName(t *testing.T) {
	c := &Config{}
	assert.Equal(t, "ride-request-producer", c.Name("ride-request-producer"))

	c.Namespace = "dev"
	assert.Equal(t, "ride-request-producer-dev", c.Name("ride-request-producer"))
}
