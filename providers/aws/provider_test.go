package aws_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/providers/aws"
	"github.com/ride-compare/rideops/providers/aws/awstest"
)

const (
	testRegion  = "us-east-1"
	testAccount = "123456789012"
)

func newProvider(t *testing.T, cloud *awstest.Cloud, preview bool) *aws.Provider {
	t.Helper()
	p := aws.New(cloud.Clients(), aws.Options{
		Region:       testRegion,
		Preview:      preview,
		APIRateLimit: 1000,
		WaitTimeout:  5 * time.Second,
	})
	_, err := p.AccountID(context.Background())
	require.NoError(t, err)
	return p
}

func writeZip(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fn.zip")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testFunction(t *testing.T) *ir.Function {
	return &ir.Function{
		Key:         "producer",
		Name:        "ride-request-producer",
		Description: "Publishes ride requests",
		Runtime:     "python3.11",
		Handler:     "lambda_function.lambda_handler",
		Timeout:     30,
		MemorySize:  256,
		CodePath:    writeZip(t, "v1"),
		Environment: map[string]string{"SQS_QUEUE_URL": "https://sqs/q", "RABBITMQ_PASSWORD": "pw"},
	}
}
