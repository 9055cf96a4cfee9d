package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AccountID returns the caller account, cached for the provider's lifetime.
func (p *Provider) AccountID(ctx context.Context) (string, error) {
	if p.account != "" {
		return p.account, nil
	}
	out, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	p.account = deref(out.Account)
	return p.account, nil
}

// RoleARN resolves an execution role given by name or ARN. The role must exist.
func (p *Provider) RoleARN(ctx context.Context, role string) (string, error) {
	name := role
	if strings.HasPrefix(role, "arn:") {
		name = role[strings.LastIndex(role, "/")+1:]
	}

	out, err := p.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: &name})
	if err != nil {
		if IsNotFound(err) {
			return "", &PrerequisiteError{Resource: "IAM role " + name, Err: err}
		}
		return "", fmt.Errorf("failed to get role %s: %w", name, err)
	}
	return deref(out.Role.Arn), nil
}

// QueueARN resolves the ARN of the SQS queue. The queue must exist.
func (p *Provider) QueueARN(ctx context.Context, queueURL string) (string, error) {
	out, err := p.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &queueURL,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		if IsNotFound(err) {
			return "", &PrerequisiteError{Resource: "SQS queue " + queueURL, Err: err}
		}
		return "", fmt.Errorf("failed to get queue attributes: %w", err)
	}
	arn := out.Attributes[string(sqstypes.QueueAttributeNameQueueArn)]
	if arn == "" {
		return "", &PrerequisiteError{Resource: "SQS queue " + queueURL, Err: fmt.Errorf("no QueueArn attribute")}
	}
	return arn, nil
}

// CheckBucket verifies the metrics bucket exists and is reachable.
func (p *Provider) CheckBucket(ctx context.Context, bucket string) error {
	if _, err := p.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket}); err != nil {
		if IsNotFound(err) {
			return &PrerequisiteError{Resource: "S3 bucket " + bucket, Err: err}
		}
		return fmt.Errorf("failed to head bucket %s: %w", bucket, err)
	}
	return nil
}
