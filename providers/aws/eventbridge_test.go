package aws_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/providers/aws/awstest"
)

func testSchedule() *ir.Schedule {
	return &ir.Schedule{
		Name:       "ride-request-rabbitmq-consumer-schedule",
		Expression: "rate(1 minute)",
		Function:   "rabbitmq-consumer",
		TargetID:   "rabbitmq-consumer",
	}
}

func TestEnsureSchedule_UpsertTwice(t *testing.T) {
	ctx := context.Background()
	cloud := awstest.New(testRegion, testAccount)
	p := newProvider(t, cloud, false)
	sch := testSchedule()
	fnARN := "arn:aws:lambda:us-east-1:123456789012:function:ride-request-rabbitmq-consumer"

	for i, want := range []ir.Outcome{ir.OutcomeCreated, ir.OutcomeUnchanged} {
		rule, err := p.EnsureScheduleRule(ctx, sch)
		require.NoError(t, err)
		assert.Equal(t, want, rule.Outcome, "rule pass %d", i)
		assert.Equal(t, "arn:aws:events:us-east-1:123456789012:rule/ride-request-rabbitmq-consumer-schedule", rule.ID)

		target, err := p.EnsureScheduleTarget(ctx, sch, fnARN)
		require.NoError(t, err)
		assert.Equal(t, want, target.Outcome, "target pass %d", i)
	}

	assert.Equal(t, 1, cloud.EventBridge.RuleCount())
	targets := cloud.EventBridge.Targets(sch.Name)
	require.Len(t, targets, 1)
	assert.Equal(t, fnARN, *targets[0].Arn)
	assert.Equal(t, 1, cloud.Calls("PutRule"))
	assert.Equal(t, 1, cloud.Calls("PutTargets"))
}

func TestEnsureScheduleRule_UpdatesExpression(t *testing.T) {
	ctx := context.Background()
	cloud := awstest.New(testRegion, testAccount)
	p := newProvider(t, cloud, false)
	sch := testSchedule()

	_, err := p.EnsureScheduleRule(ctx, sch)
	require.NoError(t, err)

	sch.Expression = "rate(5 minutes)"
	change, err := p.EnsureScheduleRule(ctx, sch)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeUpdated, change.Outcome)
	assert.Equal(t, "rate(5 minutes)", cloud.EventBridge.Expression(sch.Name))
}

func TestEnsureScheduleTarget_RemovesExtraTargets(t *testing.T) {
	ctx := context.Background()
	cloud := awstest.New(testRegion, testAccount)
	p := newProvider(t, cloud, false)
	sch := testSchedule()
	fnARN := "arn:aws:lambda:us-east-1:123456789012:function:ride-request-rabbitmq-consumer"

	_, err := p.EnsureScheduleRule(ctx, sch)
	require.NoError(t, err)
	stray, strayARN := "1", "arn:aws:lambda:us-east-1:123456789012:function:old"
	_, err = cloud.EventBridge.PutTargets(ctx, putTargetsInput(sch.Name, stray, strayARN))
	require.NoError(t, err)

	change, err := p.EnsureScheduleTarget(ctx, sch, fnARN)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeCreated, change.Outcome)

	targets := cloud.EventBridge.Targets(sch.Name)
	require.Len(t, targets, 1)
	assert.Equal(t, sch.TargetID, *targets[0].Id)
}

func TestEnsureSchedule_Preview(t *testing.T) {
	ctx := context.Background()
	cloud := awstest.New(testRegion, testAccount)
	p := newProvider(t, cloud, true)
	sch := testSchedule()

	rule, err := p.EnsureScheduleRule(ctx, sch)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeCreated, rule.Outcome)
	assert.Equal(t, "arn:aws:events:us-east-1:123456789012:rule/ride-request-rabbitmq-consumer-schedule", rule.ID)

	target, err := p.EnsureScheduleTarget(ctx, sch, "arn")
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeCreated, target.Outcome)
	assert.Equal(t, 0, cloud.EventBridge.RuleCount())
	assert.Empty(t, cloud.Mutations())
}

func putTargetsInput(rule, id, arn string) *eventbridge.PutTargetsInput {
	return &eventbridge.PutTargetsInput{Rule: &rule, Targets: []ebtypes.Target{{Id: &id, Arn: &arn}}}
}
