package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/ride-compare/rideops/internal/logging"
)

// LogGroupName returns the log group Lambda writes to for a function.
func LogGroupName(functionName string) string {
	return "/aws/lambda/" + functionName
}

// EnsureLogGroup creates the log group and sets its retention.
func (p *Provider) EnsureLogGroup(ctx context.Context, name string, retentionDays int32) (Change, error) {
	var found bool
	var retention int32

	pager := cloudwatchlogs.NewDescribeLogGroupsPaginator(p.logs, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: &name,
	})
	for pager.HasMorePages() && !found {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return Change{}, fmt.Errorf("failed to describe log groups: %w", err)
		}
		for _, g := range page.LogGroups {
			if deref(g.LogGroupName) == name {
				found = true
				retention = derefInt32(g.RetentionInDays)
				break
			}
		}
	}

	if found && retention == retentionDays {
		return unchanged(name, ""), nil
	}

	if p.preview {
		if found {
			return updated(name, fmt.Sprintf("would set retention %d -> %d days", retention, retentionDays)), nil
		}
		return created(name, "would create log group"), nil
	}

	if !found {
		_, err := p.logs.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: &name})
		if err != nil && !IsConflict(err) {
			return Change{}, fmt.Errorf("failed to create log group: %w", err)
		}
	}

	if _, err := p.logs.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    &name,
		RetentionInDays: int32Ptr(retentionDays),
	}); err != nil {
		return Change{}, fmt.Errorf("failed to put retention policy: %w", err)
	}

	if found {
		logging.Info("updated log group retention", "name", name, "days", retentionDays)
		return updated(name, fmt.Sprintf("retention %d -> %d days", retention, retentionDays)), nil
	}
	logging.Info("created log group", "name", name, "days", retentionDays)
	return created(name, ""), nil
}
