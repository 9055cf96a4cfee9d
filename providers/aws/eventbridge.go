package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/internal/logging"
)

// EnsureScheduleRule upserts an enabled rule with the schedule expression.
// The returned ID is the rule ARN.
func (p *Provider) EnsureScheduleRule(ctx context.Context, sch *ir.Schedule) (Change, error) {
	out, err := p.events.DescribeRule(ctx, &eventbridge.DescribeRuleInput{Name: &sch.Name})
	if err != nil && !IsNotFound(err) {
		return Change{}, fmt.Errorf("failed to describe rule %s: %w", sch.Name, err)
	}

	exists := err == nil
	if exists && deref(out.ScheduleExpression) == sch.Expression && out.State == types.RuleStateEnabled {
		return unchanged(deref(out.Arn), ""), nil
	}

	if p.preview {
		if exists {
			return updated(deref(out.Arn), "would set "+sch.Expression), nil
		}
		return created(p.ruleARN(sch.Name), "would create rule"), nil
	}

	put, err := p.events.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               &sch.Name,
		ScheduleExpression: &sch.Expression,
		State:              types.RuleStateEnabled,
		Description:        strPtr("Invokes the function on " + sch.Expression),
	})
	if err != nil {
		return Change{}, fmt.Errorf("failed to put rule: %w", err)
	}

	if exists {
		logging.Info("updated rule", "name", sch.Name, "expression", sch.Expression)
		return updated(deref(put.RuleArn), fmt.Sprintf("%s %s", sch.Expression, types.RuleStateEnabled)), nil
	}
	logging.Info("created rule", "name", sch.Name, "expression", sch.Expression)
	return created(deref(put.RuleArn), ""), nil
}

// ruleARN predicts the ARN of a rule that does not exist yet.
func (p *Provider) ruleARN(name string) string {
	if p.account == "" {
		return KnownAfterApply
	}
	return fmt.Sprintf("arn:aws:events:%s:%s:rule/%s", p.region, p.account, name)
}

// RuleTargets returns the targets of a rule keyed by id.
func (p *Provider) RuleTargets(ctx context.Context, rule string) (map[string]string, error) {
	targets := make(map[string]string)
	input := &eventbridge.ListTargetsByRuleInput{Rule: &rule}
	for {
		out, err := p.events.ListTargetsByRule(ctx, input)
		if err != nil {
			if IsNotFound(err) {
				return targets, nil
			}
			return nil, fmt.Errorf("failed to list targets of %s: %w", rule, err)
		}
		for _, t := range out.Targets {
			targets[deref(t.Id)] = deref(t.Arn)
		}
		if out.NextToken == nil {
			return targets, nil
		}
		input.NextToken = out.NextToken
	}
}

// EnsureScheduleTarget makes functionARN the only target of the rule.
func (p *Provider) EnsureScheduleTarget(ctx context.Context, sch *ir.Schedule, functionARN string) (Change, error) {
	targets, err := p.RuleTargets(ctx, sch.Name)
	if err != nil {
		return Change{}, err
	}

	var extra []string
	for id := range targets {
		if id != sch.TargetID {
			extra = append(extra, id)
		}
	}
	current, exists := targets[sch.TargetID]

	if exists && current == functionARN && len(extra) == 0 {
		return unchanged(sch.TargetID, ""), nil
	}

	if p.preview {
		if exists {
			return updated(sch.TargetID, "would retarget"), nil
		}
		return created(sch.TargetID, "would add target"), nil
	}

	if !exists || current != functionARN {
		out, err := p.events.PutTargets(ctx, &eventbridge.PutTargetsInput{
			Rule:    &sch.Name,
			Targets: []types.Target{{Id: &sch.TargetID, Arn: &functionARN}},
		})
		if err != nil {
			return Change{}, fmt.Errorf("failed to put targets: %w", err)
		}
		if out.FailedEntryCount > 0 {
			return Change{}, fmt.Errorf("failed to put target %s: %s", sch.TargetID, deref(out.FailedEntries[0].ErrorMessage))
		}
	}

	if len(extra) > 0 {
		out, err := p.events.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{Rule: &sch.Name, Ids: extra})
		if err != nil {
			return Change{}, fmt.Errorf("failed to remove targets: %w", err)
		}
		if out.FailedEntryCount > 0 {
			return Change{}, fmt.Errorf("failed to remove %d targets from %s", out.FailedEntryCount, sch.Name)
		}
	}

	if exists {
		logging.Info("updated rule target", "rule", sch.Name, "removed", len(extra))
		return updated(sch.TargetID, ""), nil
	}
	logging.Info("added rule target", "rule", sch.Name, "target", sch.TargetID)
	return created(sch.TargetID, ""), nil
}
