package awstest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logstypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Logs fakes CloudWatch Logs groups.
type Logs struct {
	*backend
	groups map[string]*int32
}

// Retention returns a group's retention in days and whether the group exists.
func (l *Logs) Retention(name string) (int32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.groups[name]
	if !ok || r == nil {
		return 0, ok
	}
	return *r, true
}

func (l *Logs) DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("DescribeLogGroups"); err != nil {
		return nil, err
	}
	out := &cloudwatchlogs.DescribeLogGroupsOutput{}
	for name, retention := range l.groups {
		if strings.HasPrefix(name, deref(params.LogGroupNamePrefix)) {
			out.LogGroups = append(out.LogGroups, logstypes.LogGroup{LogGroupName: strPtr(name), RetentionInDays: retention})
		}
	}
	sort.Slice(out.LogGroups, func(i, j int) bool {
		return deref(out.LogGroups[i].LogGroupName) < deref(out.LogGroups[j].LogGroupName)
	})
	return out, nil
}

func (l *Logs) CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("CreateLogGroup"); err != nil {
		return nil, err
	}
	name := deref(params.LogGroupName)
	if _, ok := l.groups[name]; ok {
		return nil, &logstypes.ResourceAlreadyExistsException{Message: strPtr("The specified log group already exists")}
	}
	l.groups[name] = nil
	return &cloudwatchlogs.CreateLogGroupOutput{}, nil
}

func (l *Logs) PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("PutRetentionPolicy"); err != nil {
		return nil, err
	}
	name := deref(params.LogGroupName)
	if _, ok := l.groups[name]; !ok {
		return nil, &logstypes.ResourceNotFoundException{Message: strPtr("The specified log group does not exist.")}
	}
	days := *params.RetentionInDays
	l.groups[name] = &days
	return &cloudwatchlogs.PutRetentionPolicyOutput{}, nil
}

// IAM fakes role lookup.
type IAM struct {
	*backend
	roles map[string]string
}

// AddRole registers a role and returns its ARN.
func (i *IAM) AddRole(name string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	arn := fmt.Sprintf("arn:aws:iam::%s:role/%s", i.account, name)
	i.roles[name] = arn
	return arn
}

func (i *IAM) GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.hit("GetRole"); err != nil {
		return nil, err
	}
	name := deref(params.RoleName)
	arn, ok := i.roles[name]
	if !ok {
		return nil, &iamtypes.NoSuchEntityException{Message: strPtr("The role with name " + name + " cannot be found.")}
	}
	return &iam.GetRoleOutput{Role: &iamtypes.Role{RoleName: &name, Arn: &arn}}, nil
}

// SQS fakes queue attribute lookup.
type SQS struct {
	*backend
	queues map[string]string
}

// AddQueue registers a queue and returns its URL.
func (s *SQS) AddQueue(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	url := fmt.Sprintf("https://sqs.%s.amazonaws.com/%s/%s", s.region, s.account, name)
	s.queues[url] = fmt.Sprintf("arn:aws:sqs:%s:%s:%s", s.region, s.account, name)
	return url
}

func (s *SQS) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("GetQueueAttributes"); err != nil {
		return nil, err
	}
	arn, ok := s.queues[deref(params.QueueUrl)]
	if !ok {
		return nil, &sqstypes.QueueDoesNotExist{Message: strPtr("The specified queue does not exist.")}
	}
	return &sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{string(sqstypes.QueueAttributeNameQueueArn): arn},
	}, nil
}

// S3 fakes bucket checks and object uploads.
type S3 struct {
	*backend
	buckets map[string]bool

	// Objects holds uploaded bodies keyed by bucket/key.
	Objects map[string][]byte
}

// AddBucket registers a bucket.
func (s *S3) AddBucket(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[name] = true
}

func (s *S3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("HeadBucket"); err != nil {
		return nil, err
	}
	if !s.buckets[deref(params.Bucket)] {
		return nil, &s3types.NotFound{Message: strPtr("Not Found")}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (s *S3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("PutObject"); err != nil {
		return nil, err
	}
	if !s.buckets[deref(params.Bucket)] {
		return nil, &s3types.NoSuchBucket{Message: strPtr("The specified bucket does not exist")}
	}
	var body []byte
	if params.Body != nil {
		var err error
		if body, err = io.ReadAll(params.Body); err != nil {
			return nil, err
		}
	}
	s.Objects[deref(params.Bucket)+"/"+deref(params.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

// STS fakes caller identity.
type STS struct {
	*backend
}

func (s *STS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("GetCallerIdentity"); err != nil {
		return nil, err
	}
	return &sts.GetCallerIdentityOutput{
		Account: strPtr(s.account),
		Arn:     strPtr(fmt.Sprintf("arn:aws:iam::%s:user/deployer", s.account)),
	}, nil
}
