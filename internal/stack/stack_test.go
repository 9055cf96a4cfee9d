package stack

import (
	"sort"
	"testing"

	"github.com/ride-compare/rideops/internal/config"
	"github.com/ride-compare/rideops/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Region:             "us-east-1",
		Role:               "ride-request-lambda-role",
		BucketName:         "ride-metrics",
		QueueURL:           "https://sqs.us-east-1.amazonaws.com/123456789012/ride-requests",
		RabbitMQ:           config.RabbitMQConfig{Host: "mq.internal", Port: 5672, User: "guest", Queue: "ride-requests"},
		CodeDir:            "./build",
		Runtime:            "python3.11",
		ScheduleExpression: "rate(1 minute)",
		BatchSize:          10,
		APIName:            "ride-request-api",
		StageName:          "prod",
		LogRetentionDays:   7,
	}
}

func TestBuild_EnvironmentContract(t *testing.T) {
	s := Build(testConfig(), "s3cret")
	require.Len(t, s.Functions, 4)

	for _, fn := range s.Functions {
		keys := make([]string, 0, len(fn.Environment))
		for k := range fn.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		assert.Equal(t, EnvironmentKeys(), keys, fn.Key)

		assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123456789012/ride-requests", fn.Environment[EnvSQSQueueURL])
		assert.Equal(t, "mq.internal", fn.Environment[EnvRabbitMQHost])
		assert.Equal(t, "5672", fn.Environment[EnvRabbitMQPort])
		assert.Equal(t, "guest", fn.Environment[EnvRabbitMQUser])
		assert.Equal(t, "s3cret", fn.Environment[EnvRabbitMQPassword])
		assert.Equal(t, "ride-requests", fn.Environment[EnvRabbitMQQueue])
		assert.Equal(t, "ride-metrics", fn.Environment[EnvS3BucketName])
	}
	require.NoError(t, Validate(s))
}

func TestBuild_Resources(t *testing.T) {
	s := Build(testConfig(), "pw")

	names := make([]string, 0, len(s.Functions))
	for _, fn := range s.Functions {
		names = append(names, fn.Name)
		assert.Equal(t, "python3.11", fn.Runtime)
		assert.Equal(t, "lambda_function.lambda_handler", fn.Handler)
		assert.Equal(t, "build/"+fn.Key+".zip", fn.CodePath)
	}
	assert.Equal(t, []string{
		"ride-request-producer",
		"ride-request-sqs-consumer",
		"ride-request-rabbitmq-consumer",
		"ride-request-comparison",
	}, names)

	require.Len(t, s.Mappings, 1)
	assert.Equal(t, KeySQSConsumer, s.Mappings[0].Function)
	assert.Equal(t, int32(10), s.Mappings[0].BatchSize)

	require.Len(t, s.Schedules, 1)
	assert.Equal(t, "ride-request-rabbitmq-consumer-schedule", s.Schedules[0].Name)
	assert.Equal(t, "rate(1 minute)", s.Schedules[0].Expression)
	assert.Equal(t, KeyRabbitMQConsumer, s.Schedules[0].Function)

	require.NotNil(t, s.API)
	assert.Equal(t, "ride-request-api", s.API.Name)
	assert.Equal(t, "prod", s.API.Stage)
	assert.Equal(t, []string{"/request-ride", "/comparison"}, s.API.Paths())
	assert.Equal(t, []string{"queue"}, s.API.RoutesFor("/request-ride")[0].QueryParams)
	assert.Equal(t, []string{"details", "limit"}, s.API.RoutesFor("/comparison")[0].QueryParams)
}

func TestBuild_Namespace(t *testing.T) {
	cfg := testConfig()
	cfg.Namespace = "dev"
	s := Build(cfg, "pw")

	assert.Equal(t, "ride-request-producer-dev", s.Function(KeyProducer).Name)
	assert.Equal(t, "ride-request-rabbitmq-consumer-schedule-dev", s.Schedules[0].Name)
	assert.Equal(t, "ride-request-api-dev", s.API.Name)
}

func TestMerge(t *testing.T) {
	base := Build(testConfig(), "pw")
	overlay := &ir.Stack{
		Functions: []*ir.Function{
			{Key: KeyComparison, MemorySize: 512, Timeout: 45, Environment: map[string]string{"EXTRA": "1"}},
		},
		API:              &ir.RestAPI{Stage: "staging"},
		LogRetentionDays: 14,
	}

	merged, err := Merge(base, overlay)
	require.NoError(t, err)

	fn := merged.Function(KeyComparison)
	assert.Equal(t, int32(512), fn.MemorySize)
	assert.Equal(t, int32(45), fn.Timeout)
	assert.Equal(t, "ride-request-comparison", fn.Name)
	assert.NotContains(t, fn.Environment, "EXTRA")
	assert.Equal(t, "staging", merged.API.Stage)
	assert.Len(t, merged.API.Routes, 2)
	assert.Equal(t, int32(14), merged.LogRetentionDays)
}

func TestMerge_NilOverlay(t *testing.T) {
	base := Build(testConfig(), "pw")
	merged, err := Merge(base, nil)
	require.NoError(t, err)
	assert.Same(t, base, merged)
}

func TestMerge_UnknownFunction(t *testing.T) {
	base := Build(testConfig(), "pw")
	_, err := Merge(base, &ir.Stack{Functions: []*ir.Function{{Key: "billing"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown function key")
}

func TestMerge_MappingDefaultsBatchSize(t *testing.T) {
	base := Build(testConfig(), "pw")
	overlay := &ir.Stack{Mappings: []*ir.EventSourceMapping{
		{Function: KeySQSConsumer, QueueURL: "https://sqs.us-east-1.amazonaws.com/123456789012/a"},
	}}

	merged, err := Merge(base, overlay)
	require.NoError(t, err)
	require.Len(t, merged.Mappings, 1)
	assert.Equal(t, int32(10), merged.Mappings[0].BatchSize)
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123456789012/a", merged.Mappings[0].QueueURL)
}

func TestMerge_TwoQueuesOnOneFunction(t *testing.T) {
	base := Build(testConfig(), "pw")
	overlay := &ir.Stack{Mappings: []*ir.EventSourceMapping{
		{Function: KeySQSConsumer, QueueURL: "https://sqs.us-east-1.amazonaws.com/123456789012/a"},
		{Function: KeySQSConsumer, QueueURL: "https://sqs.us-east-1.amazonaws.com/123456789012/b"},
	}}

	_, err := Merge(base, overlay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate event source mapping")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *ir.Stack)
		wantErr string
	}{
		{"valid", func(s *ir.Stack) {}, ""},
		{"missing env key", func(s *ir.Stack) { delete(s.Functions[1].Environment, EnvS3BucketName) }, "environment keys"},
		{"extra env key", func(s *ir.Stack) { s.Functions[0].Environment["DEBUG"] = "1" }, "environment keys"},
		{"duplicate name", func(s *ir.Stack) { s.Functions[1].Name = s.Functions[0].Name }, "duplicate function name"},
		{"mapping unknown function", func(s *ir.Stack) { s.Mappings[0].Function = "nope" }, "unknown function"},
		{"duplicate mapping", func(s *ir.Stack) { s.Mappings = append(s.Mappings, s.Mappings[0]) }, "duplicate event source mapping"},
		{"second queue on one function", func(s *ir.Stack) {
			s.Mappings = append(s.Mappings, &ir.EventSourceMapping{Function: KeySQSConsumer, QueueURL: "https://sqs.us-east-1.amazonaws.com/123456789012/other", BatchSize: 5})
		}, "duplicate event source mapping"},
		{"zero batch size", func(s *ir.Stack) { s.Mappings[0].BatchSize = 0 }, "batch size 0 out of range"},
		{"batch size too large", func(s *ir.Stack) { s.Mappings[0].BatchSize = 10001 }, "out of range"},
		{"schedule without target", func(s *ir.Stack) { s.Schedules[0].TargetID = "" }, "needs name"},
		{"bad method", func(s *ir.Stack) { s.API.Routes[0].Method = "OPTIONS" }, "unsupported method"},
		{"bad path", func(s *ir.Stack) { s.API.Routes[0].Path = "request-ride" }, "path must be"},
		{"duplicate route", func(s *ir.Stack) { s.API.Routes = append(s.API.Routes, s.API.Routes[0]) }, "duplicate route"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Build(testConfig(), "pw")
			tt.mutate(s)
			err := Validate(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
