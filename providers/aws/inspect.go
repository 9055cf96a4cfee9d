package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// FunctionInfo is the read-only view of a deployed function.
type FunctionInfo struct {
	Name             string
	Exists           bool
	ARN              string
	Runtime          string
	State            string
	LastUpdateStatus string
	EnvKeys          []string
}

// InspectFunction reads a function's configuration without changing it.
func (p *Provider) InspectFunction(ctx context.Context, name string) (*FunctionInfo, error) {
	info := &FunctionInfo{Name: name}
	out, err := p.lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: &name})
	if err != nil {
		if IsNotFound(err) {
			return info, nil
		}
		return nil, fmt.Errorf("failed to get function %s: %w", name, err)
	}

	cfg := out.Configuration
	info.Exists = true
	info.ARN = deref(cfg.FunctionArn)
	info.Runtime = string(cfg.Runtime)
	info.State = string(cfg.State)
	info.LastUpdateStatus = string(cfg.LastUpdateStatus)
	if cfg.Environment != nil {
		for k := range cfg.Environment.Variables {
			info.EnvKeys = append(info.EnvKeys, k)
		}
	}
	sort.Strings(info.EnvKeys)
	return info, nil
}

// MappingInfo is the read-only view of an event source mapping.
type MappingInfo struct {
	UUID      string
	State     string
	BatchSize int32
}

// InspectMappings lists the mappings between a function and a queue.
func (p *Provider) InspectMappings(ctx context.Context, functionName, queueARN string) ([]MappingInfo, error) {
	mappings, err := p.listMappings(ctx, functionName, queueARN)
	if err != nil {
		return nil, err
	}
	infos := make([]MappingInfo, 0, len(mappings))
	for _, m := range mappings {
		infos = append(infos, MappingInfo{
			UUID:      deref(m.UUID),
			State:     deref(m.State),
			BatchSize: derefInt32(m.BatchSize),
		})
	}
	return infos, nil
}

// RuleInfo is the read-only view of a schedule rule and its targets.
type RuleInfo struct {
	Name       string
	Exists     bool
	ARN        string
	Expression string
	State      string
	Targets    map[string]string
}

// InspectRule reads a rule and its targets.
func (p *Provider) InspectRule(ctx context.Context, name string) (*RuleInfo, error) {
	info := &RuleInfo{Name: name}
	out, err := p.events.DescribeRule(ctx, &eventbridge.DescribeRuleInput{Name: &name})
	if err != nil {
		if IsNotFound(err) {
			return info, nil
		}
		return nil, fmt.Errorf("failed to describe rule %s: %w", name, err)
	}
	info.Exists = true
	info.ARN = deref(out.Arn)
	info.Expression = deref(out.ScheduleExpression)
	info.State = string(out.State)

	info.Targets, err = p.RuleTargets(ctx, name)
	if err != nil {
		return nil, err
	}
	return info, nil
}
