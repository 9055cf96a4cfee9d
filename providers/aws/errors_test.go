package aws_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	apitypes "github.com/aws/aws-sdk-go-v2/service/apigateway/types"
	logstypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/ride-compare/rideops/providers/aws"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		conflict  bool
		transient bool
	}{
		{"nil", nil, false, false, false},
		{"lambda not found", &lambdatypes.ResourceNotFoundException{}, true, false, false},
		{"apigateway not found", &apitypes.NotFoundException{}, true, false, false},
		{"iam no such entity", &iamtypes.NoSuchEntityException{}, true, false, false},
		{"sqs queue missing", &sqstypes.QueueDoesNotExist{}, true, false, false},
		{"lambda conflict", &lambdatypes.ResourceConflictException{}, false, true, false},
		{"apigateway conflict", &apitypes.ConflictException{}, false, true, false},
		{"log group exists", &logstypes.ResourceAlreadyExistsException{}, false, true, false},
		{"wrapped conflict", fmt.Errorf("failed to add permission: %w", &lambdatypes.ResourceConflictException{}), false, true, false},
		{"apigateway throttled", &apitypes.TooManyRequestsException{}, false, false, true},
		{"lambda throttled", &lambdatypes.TooManyRequestsException{}, false, false, true},
		{"generic throttling", &smithy.GenericAPIError{Code: "ThrottlingException"}, false, false, true},
		{"server fault", &smithy.GenericAPIError{Code: "Whatever", Fault: smithy.FaultServer}, false, false, true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), false, false, true},
		{"canceled", context.Canceled, false, false, false},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException", Fault: smithy.FaultClient}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, aws.IsNotFound(tt.err), "IsNotFound")
			assert.Equal(t, tt.conflict, aws.IsConflict(tt.err), "IsConflict")
			assert.Equal(t, tt.transient, aws.IsTransient(tt.err), "IsTransient")
		})
	}
}

func TestPrerequisiteError(t *testing.T) {
	inner := &iamtypes.NoSuchEntityException{}
	err := fmt.Errorf("deploy: %w", &aws.PrerequisiteError{Resource: "IAM role r", Err: inner})

	assert.True(t, aws.IsPrerequisite(err))
	assert.True(t, aws.IsNotFound(err))
	assert.Contains(t, err.Error(), "missing prerequisite IAM role r")
	assert.False(t, aws.IsPrerequisite(inner))
}
