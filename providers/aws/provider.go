// Package aws reconciles the ride-request stack against the AWS control plane.
package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/time/rate"

	"github.com/ride-compare/rideops/internal/ir"
)

// KnownAfterApply stands in for identifiers of resources that a preview would create.
const KnownAfterApply = "(known after apply)"

// LambdaAPI is the subset of the Lambda client used by the provider.
type LambdaAPI interface {
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	UpdateFunctionConfiguration(ctx context.Context, params *lambda.UpdateFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error)
	ListEventSourceMappings(ctx context.Context, params *lambda.ListEventSourceMappingsInput, optFns ...func(*lambda.Options)) (*lambda.ListEventSourceMappingsOutput, error)
	CreateEventSourceMapping(ctx context.Context, params *lambda.CreateEventSourceMappingInput, optFns ...func(*lambda.Options)) (*lambda.CreateEventSourceMappingOutput, error)
	UpdateEventSourceMapping(ctx context.Context, params *lambda.UpdateEventSourceMappingInput, optFns ...func(*lambda.Options)) (*lambda.UpdateEventSourceMappingOutput, error)
	GetPolicy(ctx context.Context, params *lambda.GetPolicyInput, optFns ...func(*lambda.Options)) (*lambda.GetPolicyOutput, error)
	AddPermission(ctx context.Context, params *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error)
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// EventBridgeAPI is the subset of the EventBridge client used by the provider.
type EventBridgeAPI interface {
	DescribeRule(ctx context.Context, params *eventbridge.DescribeRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error)
	PutRule(ctx context.Context, params *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	ListTargetsByRule(ctx context.Context, params *eventbridge.ListTargetsByRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.ListTargetsByRuleOutput, error)
	PutTargets(ctx context.Context, params *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
	RemoveTargets(ctx context.Context, params *eventbridge.RemoveTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error)
}

// APIGatewayAPI is the subset of the API Gateway client used by the provider.
type APIGatewayAPI interface {
	GetRestApis(ctx context.Context, params *apigateway.GetRestApisInput, optFns ...func(*apigateway.Options)) (*apigateway.GetRestApisOutput, error)
	CreateRestApi(ctx context.Context, params *apigateway.CreateRestApiInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateRestApiOutput, error)
	GetResources(ctx context.Context, params *apigateway.GetResourcesInput, optFns ...func(*apigateway.Options)) (*apigateway.GetResourcesOutput, error)
	CreateResource(ctx context.Context, params *apigateway.CreateResourceInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateResourceOutput, error)
	GetMethod(ctx context.Context, params *apigateway.GetMethodInput, optFns ...func(*apigateway.Options)) (*apigateway.GetMethodOutput, error)
	PutMethod(ctx context.Context, params *apigateway.PutMethodInput, optFns ...func(*apigateway.Options)) (*apigateway.PutMethodOutput, error)
	UpdateMethod(ctx context.Context, params *apigateway.UpdateMethodInput, optFns ...func(*apigateway.Options)) (*apigateway.UpdateMethodOutput, error)
	GetIntegration(ctx context.Context, params *apigateway.GetIntegrationInput, optFns ...func(*apigateway.Options)) (*apigateway.GetIntegrationOutput, error)
	PutIntegration(ctx context.Context, params *apigateway.PutIntegrationInput, optFns ...func(*apigateway.Options)) (*apigateway.PutIntegrationOutput, error)
	GetMethodResponse(ctx context.Context, params *apigateway.GetMethodResponseInput, optFns ...func(*apigateway.Options)) (*apigateway.GetMethodResponseOutput, error)
	PutMethodResponse(ctx context.Context, params *apigateway.PutMethodResponseInput, optFns ...func(*apigateway.Options)) (*apigateway.PutMethodResponseOutput, error)
	GetIntegrationResponse(ctx context.Context, params *apigateway.GetIntegrationResponseInput, optFns ...func(*apigateway.Options)) (*apigateway.GetIntegrationResponseOutput, error)
	PutIntegrationResponse(ctx context.Context, params *apigateway.PutIntegrationResponseInput, optFns ...func(*apigateway.Options)) (*apigateway.PutIntegrationResponseOutput, error)
	GetStage(ctx context.Context, params *apigateway.GetStageInput, optFns ...func(*apigateway.Options)) (*apigateway.GetStageOutput, error)
	CreateDeployment(ctx context.Context, params *apigateway.CreateDeploymentInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateDeploymentOutput, error)
}

// LogsAPI is the subset of the CloudWatch Logs client used by the provider.
type LogsAPI interface {
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
}

// IAMAPI resolves execution roles.
type IAMAPI interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

// SQSAPI resolves queue attributes.
type SQSAPI interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// S3API checks buckets and stores run reports.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// STSAPI resolves the caller account.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// SecretsManagerAPI reads the broker password secret.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// DynamoDBAPI holds the run lock item.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Clients bundles every service client a run needs. Tests fill it with awstest fakes.
type Clients struct {
	Lambda         LambdaAPI
	EventBridge    EventBridgeAPI
	APIGateway     APIGatewayAPI
	Logs           LogsAPI
	IAM            IAMAPI
	SQS            SQSAPI
	S3             S3API
	STS            STSAPI
	SecretsManager SecretsManagerAPI
	DynamoDB       DynamoDBAPI
}

// LoadClients builds real SDK clients from the default credential chain.
func LoadClients(ctx context.Context, region, profile string) (*Clients, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config, %w", err)
	}

	return &Clients{
		Lambda:         lambda.NewFromConfig(cfg),
		EventBridge:    eventbridge.NewFromConfig(cfg),
		APIGateway:     apigateway.NewFromConfig(cfg),
		Logs:           cloudwatchlogs.NewFromConfig(cfg),
		IAM:            iam.NewFromConfig(cfg),
		SQS:            sqs.NewFromConfig(cfg),
		S3:             s3.NewFromConfig(cfg),
		STS:            sts.NewFromConfig(cfg),
		SecretsManager: secretsmanager.NewFromConfig(cfg),
		DynamoDB:       dynamodb.NewFromConfig(cfg),
	}, nil
}

// Options tune a Provider.
type Options struct {
	Region string
	// Preview reads the control plane but skips every mutation.
	Preview bool
	// APIRateLimit caps API Gateway control-plane calls per second.
	APIRateLimit float64
	// WaitTimeout bounds each wait for a function to become active or updated.
	WaitTimeout time.Duration
}

// Change is the outcome of one ensure call.
type Change struct {
	Outcome ir.Outcome
	ID      string
	Detail  string
}

func created(id, detail string) Change { return Change{Outcome: ir.OutcomeCreated, ID: id, Detail: detail} }
func updated(id, detail string) Change { return Change{Outcome: ir.OutcomeUpdated, ID: id, Detail: detail} }
func unchanged(id, detail string) Change { return Change{Outcome: ir.OutcomeUnchanged, ID: id, Detail: detail} }

// Provider ensures individual resources exist with the desired configuration.
// Ensure calls must not run concurrently; the Inspect methods may.
type Provider struct {
	lambda  LambdaAPI
	events  EventBridgeAPI
	apigw   APIGatewayAPI
	logs    LogsAPI
	iam     IAMAPI
	sqs     SQSAPI
	s3      S3API
	sts     STSAPI
	region  string
	preview bool

	limiter     *rate.Limiter
	waitTimeout time.Duration

	// API Gateway resource path -> id, fetched once per API.
	resources map[string]map[string]string
	account   string
}

// New returns a Provider over the given clients.
func New(clients *Clients, opts Options) *Provider {
	limit := opts.APIRateLimit
	if limit <= 0 {
		limit = 5
	}
	wait := opts.WaitTimeout
	if wait <= 0 {
		wait = 5 * time.Minute
	}
	return &Provider{
		lambda:      clients.Lambda,
		events:      clients.EventBridge,
		apigw:       clients.APIGateway,
		logs:        clients.Logs,
		iam:         clients.IAM,
		sqs:         clients.SQS,
		s3:          clients.S3,
		sts:         clients.STS,
		region:      opts.Region,
		preview:     opts.Preview,
		limiter:     rate.NewLimiter(rate.Limit(limit), 1),
		waitTimeout: wait,
		resources:   make(map[string]map[string]string),
	}
}

// Preview reports whether the provider skips mutations.
func (p *Provider) Preview() bool {
	return p.preview
}

// Region returns the region the provider operates in.
func (p *Provider) Region() string {
	return p.region
}

func strPtr(s string) *string {
	return &s
}

func int32Ptr(i int32) *int32 {
	return &i
}

func boolPtr(b bool) *bool {
	return &b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt32(i *int32) int32 {
	if i == nil {
		return 0
	}
	return *i
}
