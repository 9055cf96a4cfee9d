package awstest

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

type rule struct {
	arn        string
	expression string
	state      types.RuleState
	targets    []types.Target
}

// EventBridge fakes EventBridge rules and targets on the default bus.
type EventBridge struct {
	*backend
	rules map[string]*rule
}

func newEventBridge(b *backend) *EventBridge {
	return &EventBridge{backend: b, rules: make(map[string]*rule)}
}

func ruleNotFound(name string) error {
	msg := fmt.Sprintf("Rule %s does not exist on EventBus default.", name)
	return &types.ResourceNotFoundException{Message: &msg}
}

// RuleCount returns the number of rules.
func (e *EventBridge) RuleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rules)
}

// Targets returns a copy of a rule's targets.
func (e *EventBridge) Targets(name string) []types.Target {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[name]
	if !ok {
		return nil
	}
	return append([]types.Target(nil), r.targets...)
}

// Expression returns a rule's schedule expression.
func (e *EventBridge) Expression(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rules[name]; ok {
		return r.expression
	}
	return ""
}

func (e *EventBridge) DescribeRule(ctx context.Context, params *eventbridge.DescribeRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.hit("DescribeRule"); err != nil {
		return nil, err
	}
	r, ok := e.rules[deref(params.Name)]
	if !ok {
		return nil, ruleNotFound(deref(params.Name))
	}
	return &eventbridge.DescribeRuleOutput{
		Name:               params.Name,
		Arn:                strPtr(r.arn),
		ScheduleExpression: strPtr(r.expression),
		State:              r.state,
	}, nil
}

func (e *EventBridge) PutRule(ctx context.Context, params *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.hit("PutRule"); err != nil {
		return nil, err
	}
	name := deref(params.Name)
	r, ok := e.rules[name]
	if !ok {
		r = &rule{arn: fmt.Sprintf("arn:aws:events:%s:%s:rule/%s", e.region, e.account, name)}
		e.rules[name] = r
	}
	r.expression = deref(params.ScheduleExpression)
	r.state = params.State
	if r.state == "" {
		r.state = types.RuleStateEnabled
	}
	return &eventbridge.PutRuleOutput{RuleArn: strPtr(r.arn)}, nil
}

func (e *EventBridge) ListTargetsByRule(ctx context.Context, params *eventbridge.ListTargetsByRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.ListTargetsByRuleOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.hit("ListTargetsByRule"); err != nil {
		return nil, err
	}
	r, ok := e.rules[deref(params.Rule)]
	if !ok {
		return nil, ruleNotFound(deref(params.Rule))
	}
	return &eventbridge.ListTargetsByRuleOutput{Targets: append([]types.Target(nil), r.targets...)}, nil
}

func (e *EventBridge) PutTargets(ctx context.Context, params *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.hit("PutTargets"); err != nil {
		return nil, err
	}
	r, ok := e.rules[deref(params.Rule)]
	if !ok {
		return nil, ruleNotFound(deref(params.Rule))
	}
	for _, t := range params.Targets {
		replaced := false
		for i := range r.targets {
			if deref(r.targets[i].Id) == deref(t.Id) {
				r.targets[i] = t
				replaced = true
			}
		}
		if !replaced {
			r.targets = append(r.targets, t)
		}
	}
	return &eventbridge.PutTargetsOutput{}, nil
}

func (e *EventBridge) RemoveTargets(ctx context.Context, params *eventbridge.RemoveTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.hit("RemoveTargets"); err != nil {
		return nil, err
	}
	r, ok := e.rules[deref(params.Rule)]
	if !ok {
		return nil, ruleNotFound(deref(params.Rule))
	}
	remove := make(map[string]bool, len(params.Ids))
	for _, id := range params.Ids {
		remove[id] = true
	}
	kept := r.targets[:0]
	for _, t := range r.targets {
		if !remove[deref(t.Id)] {
			kept = append(kept, t)
		}
	}
	r.targets = kept
	return &eventbridge.RemoveTargetsOutput{}, nil
}
