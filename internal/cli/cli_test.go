package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/internal/lock"
	"github.com/ride-compare/rideops/internal/stack"
	"github.com/ride-compare/rideops/providers/aws"
	"github.com/ride-compare/rideops/providers/aws/awstest"
)

func TestColorize(t *testing.T) {
	t.Setenv("NO_COLOR", "")

	// When noColor is false, colorize should return the code
	noColor = false
	assert.Equal(t, "\033[31m", colorize("\033[31m"))

	// When noColor is true, colorize should return empty string
	noColor = true
	assert.Equal(t, "", colorize("\033[31m"))

	noColor = false
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, "", colorize("\033[31m"))
}

func TestRenderResult(t *testing.T) {
	noColor = true
	defer func() { noColor = false }()

	tests := []struct {
		name     string
		result   *ir.Result
		expected string
	}{
		{
			name:     "created",
			result:   &ir.Result{Address: "function.producer", Outcome: ir.OutcomeCreated},
			expected: "+ function.producer created\n",
		},
		{
			name:     "updated with detail",
			result:   &ir.Result{Address: "event-source-mapping.consumer", Outcome: ir.OutcomeUpdated, Detail: "enabled"},
			expected: "~ event-source-mapping.consumer updated (enabled)\n",
		},
		{
			name:     "unchanged",
			result:   &ir.Result{Address: "log-group./aws/lambda/producer", Outcome: ir.OutcomeUnchanged},
			expected: "  log-group./aws/lambda/producer unchanged\n",
		},
		{
			name:     "failed",
			result:   &ir.Result{Address: "schedule-rule.poll", Outcome: ir.OutcomeFailed, Err: errors.New("throttled")},
			expected: "! schedule-rule.poll failed: throttled\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			renderResult(&buf, tt.result)
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestRenderSummary(t *testing.T) {
	r := &ir.Report{
		Command: "deploy",
		Summary: ir.Summary{Created: 2, Updated: 1, Unchanged: 3},
		Outputs: map[string]string{"invoke_url": "https://x", "api_id": "abc"},
	}

	var buf bytes.Buffer
	renderSummary(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "deploy complete! Resources: 2 created, 1 updated, 3 unchanged, 0 failed.")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("api_id = abc")), bytes.Index(buf.Bytes(), []byte("invoke_url = https://x")))

	buf.Reset()
	r.Preview = true
	r.Command = "plan"
	r.Outputs = nil
	renderSummary(&buf, r)
	assert.Contains(t, buf.String(), "plan preview complete!")
	assert.NotContains(t, buf.String(), "Outputs:")
}

func TestProxyRequest(t *testing.T) {
	st := &ir.Stack{API: &ir.RestAPI{
		Stage: "prod",
		Routes: []*ir.Route{
			{Path: "/request-ride", Method: "POST", Function: stack.KeyProducer},
			{Path: "/comparison", Method: "GET", Function: stack.KeyComparison},
		},
	}}
	defer func() { invokeQueue, invokeBody, invokeDetails, invokeLimit = "sqs", "", false, 10 }()

	invokeQueue, invokeBody = "rabbitmq", `{"rider":"r-1"}`
	req, err := proxyRequest(st, stack.KeyProducer)
	require.NoError(t, err)
	assert.Equal(t, "POST", req.HTTPMethod)
	assert.Equal(t, "/request-ride", req.Path)
	assert.Equal(t, map[string]string{"queue": "rabbitmq"}, req.QueryStringParameters)
	assert.Equal(t, `{"rider":"r-1"}`, req.Body)
	assert.Equal(t, "prod", req.RequestContext.Stage)
	assert.NotEmpty(t, req.RequestContext.RequestID)

	invokeDetails, invokeLimit = true, 25
	req, err = proxyRequest(st, stack.KeyComparison)
	require.NoError(t, err)
	assert.Equal(t, "GET", req.HTTPMethod)
	assert.Equal(t, map[string]string{"details": "true", "limit": "25"}, req.QueryStringParameters)

	invokeQueue = "kafka"
	_, err = proxyRequest(st, stack.KeyProducer)
	assert.ErrorContains(t, err, "--queue")

	_, err = proxyRequest(st, stack.KeySQSConsumer)
	assert.ErrorContains(t, err, "not served by any API route")
}

// withCloud points the commands at an in-memory control plane seeded with the prerequisites.
func withCloud(t *testing.T) *awstest.Cloud {
	t.Helper()
	cloud := awstest.New("us-east-1", "123456789012")
	_, queueURL := cloud.Seed("ride-request-lambda-role", "ride-requests", "ride-metrics")

	codeDir := t.TempDir()
	for _, key := range []string{stack.KeyProducer, stack.KeySQSConsumer, stack.KeyRabbitMQConsumer, stack.KeyComparison} {
		require.NoError(t, os.WriteFile(filepath.Join(codeDir, key+".zip"), []byte("package "+key), 0o644))
	}

	t.Setenv("NO_COLOR", "1")
	t.Setenv("RIDEOPS_REGION", "us-east-1")
	t.Setenv("RIDEOPS_QUEUE_URL", queueURL)
	t.Setenv("RIDEOPS_BUCKET", "ride-metrics")
	t.Setenv("RIDEOPS_RABBITMQ_HOST", "mq.internal")
	t.Setenv("RIDEOPS_RABBITMQ_PASSWORD", "s3cret")
	t.Setenv("RIDEOPS_CODE_DIR", codeDir)
	t.Setenv("RIDEOPS_API_RATE_LIMIT", "1000")
	t.Setenv("RIDEOPS_WAIT_TIMEOUT", "5s")
	t.Setenv("RIDEOPS_LOG_LEVEL", "error")

	orig := newClients
	newClients = func(ctx context.Context, region, profile string) (*aws.Clients, error) {
		return cloud.Clients(), nil
	}
	t.Cleanup(func() { newClients = orig })
	return cloud
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDeployCommand_Converges(t *testing.T) {
	cloud := withCloud(t)

	out, err := execute(t, "deploy")
	require.NoError(t, err, out)
	assert.Contains(t, out, "+ function.ride-request-producer created")
	assert.Contains(t, out, "deploy complete! Resources:")
	assert.Contains(t, out, "0 failed.")
	assert.Contains(t, out, "invoke_url = https://")
	assert.Len(t, cloud.Lambda.FunctionNames(), 4)

	cloud.ResetCalls()
	out, err = execute(t, "deploy")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Resources: 0 created, 0 updated")
	assert.Empty(t, cloud.Mutations())
}

func TestPlanCommand_ChangesNothing(t *testing.T) {
	cloud := withCloud(t)

	out, err := execute(t, "plan")
	require.NoError(t, err, out)
	assert.Contains(t, out, "plan preview complete!")
	assert.Contains(t, out, "+ function.ride-request-producer created")
	assert.Empty(t, cloud.Mutations())
	assert.Empty(t, cloud.Lambda.FunctionNames())
}

func TestDiagnoseCommand(t *testing.T) {
	withCloud(t)

	out, err := execute(t, "diagnose")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDrift))
	assert.Contains(t, out, "RESOURCE")
	assert.Contains(t, out, "missing")

	_, err = execute(t, "deploy")
	require.NoError(t, err)

	out, err = execute(t, "diagnose", "--json")
	require.NoError(t, err, out)
	var findings struct {
		Findings []map[string]string `json:"findings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &findings))
	assert.NotEmpty(t, findings.Findings)
	for _, f := range findings.Findings {
		assert.Equal(t, "ok", f["status"], f["resource"])
	}
}

func TestFixTriggersCommand_RequiresDeploy(t *testing.T) {
	cloud := withCloud(t)

	_, err := execute(t, "fix-triggers")
	require.Error(t, err)
	assert.Empty(t, cloud.Mutations())

	_, err = execute(t, "deploy")
	require.NoError(t, err)

	out, err := execute(t, "fix-triggers")
	require.NoError(t, err, out)
	assert.Contains(t, out, "fix-triggers complete!")
}

func TestInvokeCommand(t *testing.T) {
	cloud := withCloud(t)
	_, err := execute(t, "deploy")
	require.NoError(t, err)

	var got events.APIGatewayProxyRequest
	var invoked string
	cloud.Lambda.Handler = func(name string, payload []byte) ([]byte, error) {
		invoked = name
		if err := json.Unmarshal(payload, &got); err != nil {
			return nil, err
		}
		return []byte(`{"statusCode":202,"headers":{"X-Queue":"rabbitmq","Content-Type":"application/json"},"body":"{\"queued\":true}"}`), nil
	}

	out, err := execute(t, "invoke", "producer", "--queue", "rabbitmq")
	require.NoError(t, err, out)
	assert.Equal(t, "ride-request-producer", invoked)
	assert.Equal(t, "POST", got.HTTPMethod)
	assert.Equal(t, "rabbitmq", got.QueryStringParameters["queue"])
	assert.Equal(t, "HTTP 202\nContent-Type: application/json\nX-Queue: rabbitmq\n\n{\"queued\":true}\n", out)

	cloud.Lambda.Handler = func(name string, payload []byte) ([]byte, error) {
		return []byte(`{"statusCode":500,"body":"boom"}`), nil
	}
	out, err = execute(t, "invoke", "comparison")
	require.Error(t, err)
	assert.Contains(t, out, "HTTP 500")
}

func TestInvokeCommand_FunctionMissing(t *testing.T) {
	withCloud(t)

	_, err := execute(t, "invoke", "comparison")
	require.Error(t, err)
	var prereq *aws.PrerequisiteError
	assert.True(t, errors.As(err, &prereq))
}

func TestGraphCommand(t *testing.T) {
	cloud := withCloud(t)

	out, err := execute(t, "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
	assert.Contains(t, out, "function.ride-request-producer")
	assert.Contains(t, out, "api-deployment.prod")

	out, err = execute(t, "graph", "--format", "mermaid")
	require.NoError(t, err)
	assert.NotContains(t, out, "digraph")

	_, err = execute(t, "graph", "--format", "svg")
	assert.Error(t, err)
	assert.Zero(t, cloud.Calls("GetCallerIdentity"))
}

func TestReportFlag(t *testing.T) {
	withCloud(t)
	dir := t.TempDir() + "/reports/"

	out, err := execute(t, "deploy", "--report", dir)
	require.NoError(t, err, out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	var r ir.Report
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, "deploy", r.Command)
	assert.Equal(t, 4, r.Count(ir.KindFunction, ir.OutcomeCreated))
}

func TestDeployCommand_LockTable(t *testing.T) {
	cloud := withCloud(t)
	cloud.DynamoDB.AddTable("rideops-locks", "LockID")

	out, err := execute(t, "deploy", "--lock-table", "rideops-locks")
	require.NoError(t, err, out)
	assert.Equal(t, 1, cloud.Calls("PutItem"))
	assert.Equal(t, 1, cloud.Calls("DeleteItem"))
	assert.Nil(t, cloud.DynamoDB.Item("rideops-locks", "rideops/us-east-1/default"))
	assert.Len(t, cloud.Lambda.FunctionNames(), 4)
}

func TestDeployCommand_LockHeld(t *testing.T) {
	cloud := withCloud(t)
	cloud.DynamoDB.AddTable("rideops-locks", "LockID")
	other := lock.New(cloud.DynamoDB, "rideops-locks", lock.Key("us-east-1", ""))
	require.NoError(t, other.Acquire(context.Background()))

	_, err := execute(t, "deploy", "--lock-table", "rideops-locks")
	require.Error(t, err)
	assert.True(t, errors.Is(err, lock.ErrLocked))
	assert.Empty(t, cloud.Lambda.FunctionNames())
	assert.NotNil(t, cloud.DynamoDB.Item("rideops-locks", "rideops/us-east-1/default"))

	// plan never locks.
	_, err = execute(t, "plan", "--lock-table", "rideops-locks")
	require.NoError(t, err)
}

func TestDeployCommand_PasswordSecret(t *testing.T) {
	cloud := withCloud(t)
	t.Setenv("RIDEOPS_RABBITMQ_PASSWORD", "")
	t.Setenv("RIDEOPS_RABBITMQ_PASSWORD_SECRET", "rideops/rabbitmq")

	_, err := execute(t, "deploy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve RabbitMQ password")
	assert.Empty(t, cloud.Lambda.FunctionNames())

	cloud.SecretsManager.AddSecret("rideops/rabbitmq", `{"username":"guest","password":"from-secret"}`)
	out, err := execute(t, "deploy")
	require.NoError(t, err, out)
	fn := cloud.Lambda.Function("ride-request-producer")
	require.NotNil(t, fn)
	assert.Equal(t, "from-secret", fn.Environment.Variables[stack.EnvRabbitMQPassword])
	assert.NotContains(t, out, "from-secret")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "rideops version dev")
}
