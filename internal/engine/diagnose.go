package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/providers/aws"
)

// FindingStatus is the verdict of one diagnostic check.
type FindingStatus string

const (
	StatusOK      FindingStatus = "ok"
	StatusDrift   FindingStatus = "drift"
	StatusMissing FindingStatus = "missing"
)

// diagnoseParallelism caps concurrent control-plane reads.
const diagnoseParallelism = 4

// Finding is the result of one read-only check.
type Finding struct {
	Resource string        `json:"resource"`
	Check    string        `json:"check"`
	Status   FindingStatus `json:"status"`
	Detail   string        `json:"detail,omitempty"`
}

// Diagnosis collects every finding of a diagnose run, sorted by resource.
type Diagnosis struct {
	Findings []Finding `json:"findings"`
}

// Healthy reports whether every check passed.
func (d *Diagnosis) Healthy() bool {
	for _, f := range d.Findings {
		if f.Status != StatusOK {
			return false
		}
	}
	return true
}

// Problems returns the findings that did not pass.
func (d *Diagnosis) Problems() []Finding {
	var out []Finding
	for _, f := range d.Findings {
		if f.Status != StatusOK {
			out = append(out, f)
		}
	}
	return out
}

func passed(resource, check, detail string) Finding {
	return Finding{Resource: resource, Check: check, Status: StatusOK, Detail: detail}
}

func drifted(resource, check, detail string) Finding {
	return Finding{Resource: resource, Check: check, Status: StatusDrift, Detail: detail}
}

func absent(resource, check string) Finding {
	return Finding{Resource: resource, Check: check, Status: StatusMissing}
}

// Diagnose compares the control plane with the stack without changing anything.
// Reads fan out across resources; the queue ARNs and the account are resolved first.
func (e *Engine) Diagnose(ctx context.Context) (*Diagnosis, error) {
	if err := e.commonPrerequisites(ctx); err != nil {
		return nil, err
	}

	var apiID string
	if e.stack.API != nil {
		if err := e.retry(ctx, func(ctx context.Context) error {
			var err error
			apiID, err = e.provider.FindRestAPI(ctx, e.stack.API.Name)
			return err
		}); err != nil {
			return nil, err
		}
	}

	var checks []func(ctx context.Context) ([]Finding, error)
	for _, fn := range e.stack.Functions {
		checks = append(checks, func(ctx context.Context) ([]Finding, error) {
			return e.diagnoseFunction(ctx, fn)
		})
	}
	for _, m := range e.stack.Mappings {
		checks = append(checks, func(ctx context.Context) ([]Finding, error) {
			return e.diagnoseMapping(ctx, m)
		})
	}
	for _, sch := range e.stack.Schedules {
		checks = append(checks, func(ctx context.Context) ([]Finding, error) {
			return e.diagnoseSchedule(ctx, sch)
		})
	}
	if e.stack.API != nil {
		checks = append(checks, func(ctx context.Context) ([]Finding, error) {
			return e.diagnoseAPI(ctx, e.stack.API, apiID)
		})
	}

	results := make([][]Finding, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(diagnoseParallelism)
	for i, check := range checks {
		g.Go(func() error {
			return e.retry(gctx, func(ctx context.Context) error {
				findings, err := check(ctx)
				if err != nil {
					return err
				}
				results[i] = findings
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &Diagnosis{}
	for _, r := range results {
		d.Findings = append(d.Findings, r...)
	}
	sort.SliceStable(d.Findings, func(i, j int) bool {
		return d.Findings[i].Resource < d.Findings[j].Resource
	})
	return d, nil
}

func (e *Engine) diagnoseFunction(ctx context.Context, fn *ir.Function) ([]Finding, error) {
	addr := functionAddr(fn)
	info, err := e.provider.InspectFunction(ctx, fn.Name)
	if err != nil {
		return nil, err
	}
	if !info.Exists {
		return []Finding{absent(addr, "exists")}, nil
	}

	findings := []Finding{passed(addr, "exists", info.ARN)}

	want := make([]string, 0, len(fn.Environment))
	for k := range fn.Environment {
		want = append(want, k)
	}
	sort.Strings(want)
	if lacking, extra := diffKeys(want, info.EnvKeys); len(lacking) > 0 || len(extra) > 0 {
		var parts []string
		if len(lacking) > 0 {
			parts = append(parts, "missing "+strings.Join(lacking, ","))
		}
		if len(extra) > 0 {
			parts = append(parts, "unexpected "+strings.Join(extra, ","))
		}
		findings = append(findings, drifted(addr, "environment", strings.Join(parts, "; ")))
	} else {
		findings = append(findings, passed(addr, "environment", fmt.Sprintf("%d keys", len(want))))
	}

	switch {
	case info.State != "Active":
		findings = append(findings, drifted(addr, "state", "state="+info.State))
	case info.LastUpdateStatus == "Failed":
		findings = append(findings, drifted(addr, "state", "last update failed"))
	default:
		findings = append(findings, passed(addr, "state", info.State))
	}

	if info.Runtime != fn.Runtime {
		findings = append(findings, drifted(addr, "runtime", fmt.Sprintf("%s, want %s", info.Runtime, fn.Runtime)))
	}
	return findings, nil
}

func diffKeys(want, have []string) (lacking, extra []string) {
	haveSet := make(map[string]bool, len(have))
	for _, k := range have {
		haveSet[k] = true
	}
	wantSet := make(map[string]bool, len(want))
	for _, k := range want {
		wantSet[k] = true
		if !haveSet[k] {
			lacking = append(lacking, k)
		}
	}
	for _, k := range have {
		if !wantSet[k] {
			extra = append(extra, k)
		}
	}
	return lacking, extra
}

func (e *Engine) diagnoseMapping(ctx context.Context, m *ir.EventSourceMapping) ([]Finding, error) {
	fn := e.stack.Function(m.Function)
	addr := ir.Address(ir.KindEventSourceMapping, fn.Name)
	mappings, err := e.provider.InspectMappings(ctx, fn.Name, e.queues[m.QueueURL])
	if err != nil {
		return nil, err
	}

	switch len(mappings) {
	case 0:
		return []Finding{absent(addr, "exists")}, nil
	case 1:
	default:
		return []Finding{drifted(addr, "exists", fmt.Sprintf("%d mappings for one queue", len(mappings)))}, nil
	}

	mapping := mappings[0]
	findings := []Finding{passed(addr, "exists", mapping.UUID)}
	if mapping.State != "Enabled" {
		findings = append(findings, drifted(addr, "state", "state="+mapping.State))
	} else {
		findings = append(findings, passed(addr, "state", mapping.State))
	}
	if mapping.BatchSize != m.BatchSize {
		findings = append(findings, drifted(addr, "batch-size", fmt.Sprintf("%d, want %d", mapping.BatchSize, m.BatchSize)))
	} else {
		findings = append(findings, passed(addr, "batch-size", fmt.Sprint(mapping.BatchSize)))
	}
	return findings, nil
}

func (e *Engine) diagnoseSchedule(ctx context.Context, sch *ir.Schedule) ([]Finding, error) {
	fn := e.stack.Function(sch.Function)
	addr := ir.Address(ir.KindScheduleRule, sch.Name)
	rule, err := e.provider.InspectRule(ctx, sch.Name)
	if err != nil {
		return nil, err
	}
	if !rule.Exists {
		return []Finding{absent(addr, "exists")}, nil
	}

	findings := []Finding{passed(addr, "exists", rule.ARN)}
	if rule.Expression != sch.Expression {
		findings = append(findings, drifted(addr, "expression", fmt.Sprintf("%s, want %s", rule.Expression, sch.Expression)))
	}
	if rule.State != "ENABLED" {
		findings = append(findings, drifted(addr, "state", "state="+rule.State))
	}

	info, err := e.provider.InspectFunction(ctx, fn.Name)
	if err != nil {
		return nil, err
	}
	switch target, exists := rule.Targets[sch.TargetID]; {
	case !exists:
		findings = append(findings, absent(addr, "target"))
	case !info.Exists || target != info.ARN:
		findings = append(findings, drifted(addr, "target", "target points at "+target))
	case len(rule.Targets) > 1:
		findings = append(findings, drifted(addr, "target", fmt.Sprintf("%d targets", len(rule.Targets))))
	default:
		findings = append(findings, passed(addr, "target", sch.TargetID))
	}

	perm, err := e.diagnosePermission(ctx, fn, principalEvents, rule.ARN)
	if err != nil {
		return nil, err
	}
	return append(findings, perm), nil
}

func (e *Engine) diagnosePermission(ctx context.Context, fn *ir.Function, principal, sourceARN string) (Finding, error) {
	addr := permissionAddr(fn, principal)
	sids, err := e.provider.PolicyStatementIDs(ctx, fn.Name)
	if err != nil {
		return Finding{}, err
	}
	sid := aws.StatementID(principal, sourceARN)
	for _, s := range sids {
		if s == sid {
			return passed(addr, "statement", sid), nil
		}
	}
	return absent(addr, "statement"), nil
}

func (e *Engine) diagnoseAPI(ctx context.Context, api *ir.RestAPI, apiID string) ([]Finding, error) {
	addr := ir.Address(ir.KindRestAPI, api.Name)
	if apiID == "" {
		return []Finding{absent(addr, "exists")}, nil
	}
	findings := []Finding{passed(addr, "exists", apiID)}

	paths, err := e.provider.APIResourcePaths(ctx, apiID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(paths))
	for _, p := range paths {
		have[p] = true
	}
	for _, path := range api.Paths() {
		resAddr := ir.Address(ir.KindAPIResource, path)
		if have[path] {
			findings = append(findings, passed(resAddr, "exists", ""))
		} else {
			findings = append(findings, absent(resAddr, "exists"))
		}
	}

	seen := make(map[string]bool)
	for _, r := range api.Routes {
		if seen[r.Function] {
			continue
		}
		seen[r.Function] = true
		perm, err := e.diagnosePermission(ctx, e.stack.Function(r.Function), principalAPIGateway, e.provider.ExecuteAPISourceARN(apiID))
		if err != nil {
			return nil, err
		}
		findings = append(findings, perm)
	}
	return findings, nil
}
