package engine

import (
	"context"
	"strings"

	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/providers/aws"
)

const (
	principalEvents     = "events.amazonaws.com"
	principalAPIGateway = "apigateway.amazonaws.com"
)

// Steps returns the deploy steps of stack without touching the control plane.
// It is used to render the dependency graph.
func Steps(stack *ir.Stack) []*Step {
	e := &Engine{stack: stack}
	return e.deploySteps()
}

func functionAddr(fn *ir.Function) string {
	return ir.Address(ir.KindFunction, fn.Name)
}

func routeName(method, path string) string {
	return method + " " + path
}

func permissionAddr(fn *ir.Function, principal string) string {
	return ir.Address(ir.KindPermission, fn.Name+"/"+strings.TrimSuffix(principal, ".amazonaws.com"))
}

// deploySteps lists every ensure of a full deploy.
func (e *Engine) deploySteps() []*Step {
	var steps []*Step
	for _, fn := range e.stack.Functions {
		steps = append(steps, e.functionStep(fn), e.logGroupStep(fn))
	}
	for _, m := range e.stack.Mappings {
		steps = append(steps, e.mappingStep(m, e.opts.Repair))
	}
	for _, sch := range e.stack.Schedules {
		steps = append(steps, e.scheduleSteps(sch)...)
	}
	if e.stack.API != nil {
		steps = append(steps, e.apiSteps(e.stack.API)...)
	}
	return steps
}

// triggerSteps lists the repairs of fix-triggers. Function steps are absent, so
// dependencies on them count as satisfied.
func (e *Engine) triggerSteps() []*Step {
	var steps []*Step
	for _, m := range e.stack.Mappings {
		steps = append(steps, e.mappingStep(m, true))
	}
	for _, sch := range e.stack.Schedules {
		steps = append(steps, e.scheduleSteps(sch)...)
	}
	if api := e.stack.API; api != nil {
		if _, ok := e.outputs[ir.Address(ir.KindRestAPI, api.Name)]; ok {
			steps = append(steps, e.apiPermissionSteps(api)...)
		}
	}
	return steps
}

func (e *Engine) functionStep(fn *ir.Function) *Step {
	return &Step{
		Address: functionAddr(fn),
		Kind:    ir.KindFunction,
		run: func(ctx context.Context) (aws.Change, error) {
			return e.provider.EnsureFunction(ctx, fn, e.roles[fn.Role])
		},
	}
}

func (e *Engine) logGroupStep(fn *ir.Function) *Step {
	name := aws.LogGroupName(fn.Name)
	return &Step{
		Address:   ir.Address(ir.KindLogGroup, name),
		Kind:      ir.KindLogGroup,
		DependsOn: []string{functionAddr(fn)},
		run: func(ctx context.Context) (aws.Change, error) {
			return e.provider.EnsureLogGroup(ctx, name, e.stack.LogRetentionDays)
		},
	}
}

func (e *Engine) mappingStep(m *ir.EventSourceMapping, repair bool) *Step {
	fn := e.stack.Function(m.Function)
	return &Step{
		Address:   ir.Address(ir.KindEventSourceMapping, fn.Name),
		Kind:      ir.KindEventSourceMapping,
		DependsOn: []string{functionAddr(fn)},
		run: func(ctx context.Context) (aws.Change, error) {
			return e.provider.EnsureEventSourceMapping(ctx, fn.Name, e.queues[m.QueueURL], m.BatchSize, repair)
		},
	}
}

// scheduleSteps ensures the rule, its single target and the permission that lets the rule invoke the function.
func (e *Engine) scheduleSteps(sch *ir.Schedule) []*Step {
	fn := e.stack.Function(sch.Function)
	ruleAddr := ir.Address(ir.KindScheduleRule, sch.Name)

	return []*Step{
		{
			Address: ruleAddr,
			Kind:    ir.KindScheduleRule,
			run: func(ctx context.Context) (aws.Change, error) {
				return e.provider.EnsureScheduleRule(ctx, sch)
			},
		},
		{
			Address:   ir.Address(ir.KindScheduleTarget, sch.Name+"/"+sch.TargetID),
			Kind:      ir.KindScheduleTarget,
			DependsOn: []string{ruleAddr, functionAddr(fn)},
			run: func(ctx context.Context) (aws.Change, error) {
				return e.provider.EnsureScheduleTarget(ctx, sch, e.outputs[functionAddr(fn)])
			},
		},
		{
			Address:   permissionAddr(fn, principalEvents),
			Kind:      ir.KindPermission,
			DependsOn: []string{ruleAddr, functionAddr(fn)},
			run: func(ctx context.Context) (aws.Change, error) {
				return e.provider.EnsurePermission(ctx, fn.Name, principalEvents, e.outputs[ruleAddr])
			},
		},
	}
}

// apiSteps ensures the REST API tree: resources, proxied methods, CORS
// preflight on every CORS path, invoke permissions and finally the stage.
func (e *Engine) apiSteps(api *ir.RestAPI) []*Step {
	apiAddr := ir.Address(ir.KindRestAPI, api.Name)
	apiID := func() string { return e.outputs[apiAddr] }

	steps := []*Step{{
		Address: apiAddr,
		Kind:    ir.KindRestAPI,
		run: func(ctx context.Context) (aws.Change, error) {
			return e.provider.EnsureRestAPI(ctx, api)
		},
	}}

	for _, path := range api.Paths() {
		resAddr := ir.Address(ir.KindAPIResource, path)
		steps = append(steps, &Step{
			Address:   resAddr,
			Kind:      ir.KindAPIResource,
			DependsOn: []string{apiAddr},
			run: func(ctx context.Context) (aws.Change, error) {
				return e.provider.EnsureAPIResource(ctx, apiID(), path)
			},
		})

		routes := api.RoutesFor(path)
		var methods []string
		cors := false
		for _, r := range routes {
			fn := e.stack.Function(r.Function)
			methodAddr := ir.Address(ir.KindAPIMethod, routeName(r.Method, path))
			methods = append(methods, r.Method)
			cors = cors || r.CORS

			steps = append(steps,
				&Step{
					Address:   methodAddr,
					Kind:      ir.KindAPIMethod,
					DependsOn: []string{resAddr},
					run: func(ctx context.Context) (aws.Change, error) {
						return e.provider.EnsureMethod(ctx, apiID(), path, r.Method, r.QueryParams)
					},
				},
				&Step{
					Address:   ir.Address(ir.KindAPIIntegration, routeName(r.Method, path)),
					Kind:      ir.KindAPIIntegration,
					DependsOn: []string{methodAddr, functionAddr(fn)},
					run: func(ctx context.Context) (aws.Change, error) {
						return e.provider.EnsureProxyIntegration(ctx, apiID(), path, r.Method, e.outputs[functionAddr(fn)])
					},
				},
			)
		}

		if cors {
			steps = append(steps, e.corsSteps(apiID, resAddr, path, methods)...)
		}
	}

	steps = append(steps, e.apiPermissionSteps(api)...)

	var apiNodes []string
	for _, s := range steps {
		if isAPIKind(s.Kind) {
			apiNodes = append(apiNodes, s.Address)
		}
	}
	steps = append(steps, &Step{
		Address:   ir.Address(ir.KindAPIDeployment, api.Stage),
		Kind:      ir.KindAPIDeployment,
		DependsOn: apiNodes,
		run: func(ctx context.Context) (aws.Change, error) {
			return e.provider.EnsureDeployment(ctx, apiID(), api.Stage, e.apiChanged)
		},
	})
	return steps
}

func (e *Engine) corsSteps(apiID func() string, resAddr, path string, methods []string) []*Step {
	name := routeName("OPTIONS", path)
	methodAddr := ir.Address(ir.KindAPIMethod, name)
	integrationAddr := ir.Address(ir.KindAPIIntegration, name)

	return []*Step{
		{
			Address:   methodAddr,
			Kind:      ir.KindAPIMethod,
			DependsOn: []string{resAddr},
			run: func(ctx context.Context) (aws.Change, error) {
				return e.provider.EnsureMethod(ctx, apiID(), path, "OPTIONS", nil)
			},
		},
		{
			Address:   integrationAddr,
			Kind:      ir.KindAPIIntegration,
			DependsOn: []string{methodAddr},
			run: func(ctx context.Context) (aws.Change, error) {
				return e.provider.EnsureMockIntegration(ctx, apiID(), path)
			},
		},
		{
			Address:   ir.Address(ir.KindAPIMethodResponse, name),
			Kind:      ir.KindAPIMethodResponse,
			DependsOn: []string{integrationAddr},
			run: func(ctx context.Context) (aws.Change, error) {
				return e.provider.EnsureCORSResponse(ctx, apiID(), path, methods)
			},
		},
	}
}

// apiPermissionSteps grants API Gateway invoke rights on each distinct route function.
func (e *Engine) apiPermissionSteps(api *ir.RestAPI) []*Step {
	apiAddr := ir.Address(ir.KindRestAPI, api.Name)
	seen := make(map[string]bool)
	var steps []*Step
	for _, r := range api.Routes {
		if seen[r.Function] {
			continue
		}
		seen[r.Function] = true
		fn := e.stack.Function(r.Function)
		steps = append(steps, &Step{
			Address:   permissionAddr(fn, principalAPIGateway),
			Kind:      ir.KindPermission,
			DependsOn: []string{apiAddr, functionAddr(fn)},
			run: func(ctx context.Context) (aws.Change, error) {
				return e.provider.EnsurePermission(ctx, fn.Name, principalAPIGateway, e.provider.ExecuteAPISourceARN(e.outputs[apiAddr]))
			},
		})
	}
	return steps
}
