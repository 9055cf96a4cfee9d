package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/internal/logging"
	"github.com/ride-compare/rideops/providers/aws"
)

// Options controls how a run reconciles the stack.
type Options struct {
	// Repair converges drifted event source mappings instead of only reporting them.
	Repair bool
	// ContinueOnError records failures and keeps going instead of stopping at the first one.
	ContinueOnError bool
	// Retry is the backoff policy for transient errors. Nil uses DefaultRetryPolicy.
	Retry *RetryPolicy
	// Timeout bounds each step, retries and waits included.
	Timeout time.Duration
	// Bucket is the metrics bucket the functions write to. Empty skips the check.
	Bucket string
}

// Step is one ensure call in a run.
type Step struct {
	Address   string
	Kind      ir.Kind
	DependsOn []string

	run func(ctx context.Context) (aws.Change, error)
}

// ResultCallback is called after each step if set.
type ResultCallback func(res *ir.Result)

// Engine reconciles a desired stack against the control plane, one step at a time.
type Engine struct {
	provider *aws.Provider
	stack    *ir.Stack
	opts     Options
	callback ResultCallback

	roles   map[string]string // role name or ARN -> resolved ARN
	queues  map[string]string // queue URL -> queue ARN
	outputs map[string]string // step address -> remote id

	apiChanged bool
}

// New returns an Engine for stack over provider.
func New(provider *aws.Provider, stack *ir.Stack, opts Options) *Engine {
	return &Engine{
		provider: provider,
		stack:    stack,
		opts:     opts,
		roles:    make(map[string]string),
		queues:   make(map[string]string),
		outputs:  make(map[string]string),
	}
}

// OnResult registers a callback that receives every result as it is recorded.
func (e *Engine) OnResult(cb ResultCallback) {
	e.callback = cb
}

// Deploy ensures every resource of the stack. With a preview provider it
// reports what a deploy would do without mutating anything.
func (e *Engine) Deploy(ctx context.Context) (*ir.Report, error) {
	command := "deploy"
	if e.provider.Preview() {
		command = "plan"
	}
	report := e.newReport(command)

	if err := e.deployPrerequisites(ctx); err != nil {
		return e.finish(report), err
	}
	return e.run(ctx, report, e.deploySteps())
}

// FixTriggers repairs the triggers of already deployed functions: the queue
// mapping, the schedule and every invoke permission. Functions are never created.
func (e *Engine) FixTriggers(ctx context.Context) (*ir.Report, error) {
	report := e.newReport("fix-triggers")

	if err := e.triggerPrerequisites(ctx); err != nil {
		return e.finish(report), err
	}
	for _, fn := range e.stack.Functions {
		report.SetOutput(fn.Key+"_function_arn", e.outputs[ir.Address(ir.KindFunction, fn.Name)])
	}
	return e.run(ctx, report, e.triggerSteps())
}

func (e *Engine) newReport(command string) *ir.Report {
	return &ir.Report{
		RunID:     uuid.NewString(),
		Command:   command,
		Preview:   e.provider.Preview(),
		Region:    e.provider.Region(),
		StartedAt: time.Now().UTC(),
	}
}

func (e *Engine) finish(report *ir.Report) *ir.Report {
	report.FinishedAt = time.Now().UTC()
	return report
}

// retry runs a read with the run's retry policy and step timeout.
func (e *Engine) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	return RetryWithBackoff(ctx, e.opts.Retry, func() error {
		return fn(ctx)
	}, aws.IsTransient)
}

// commonPrerequisites resolves the account and every queue ARN.
func (e *Engine) commonPrerequisites(ctx context.Context) error {
	if err := e.retry(ctx, func(ctx context.Context) error {
		_, err := e.provider.AccountID(ctx)
		return err
	}); err != nil {
		return err
	}

	var errs []error
	for _, m := range e.stack.Mappings {
		if _, ok := e.queues[m.QueueURL]; ok {
			continue
		}
		var arn string
		err := e.retry(ctx, func(ctx context.Context) error {
			var err error
			arn, err = e.provider.QueueARN(ctx, m.QueueURL)
			return err
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.queues[m.QueueURL] = arn
	}

	if e.opts.Bucket != "" {
		if err := e.retry(ctx, func(ctx context.Context) error {
			return e.provider.CheckBucket(ctx, e.opts.Bucket)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deployPrerequisites checks everything a deploy needs before the first
// mutation: roles, queues, the bucket and every code package.
func (e *Engine) deployPrerequisites(ctx context.Context) error {
	err := e.commonPrerequisites(ctx)
	errs := []error{err}

	for _, fn := range e.stack.Functions {
		if _, err := os.Stat(fn.CodePath); err != nil {
			errs = append(errs, &aws.PrerequisiteError{Resource: "code package " + fn.CodePath, Err: err})
		}
		if _, ok := e.roles[fn.Role]; ok {
			continue
		}
		var arn string
		err := e.retry(ctx, func(ctx context.Context) error {
			var err error
			arn, err = e.provider.RoleARN(ctx, fn.Role)
			return err
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.roles[fn.Role] = arn
	}

	if err := errors.Join(errs...); err != nil {
		logging.Error("prerequisite check failed", "error", err)
		return err
	}
	return nil
}

// triggerPrerequisites requires every function to exist already and records its ARN.
func (e *Engine) triggerPrerequisites(ctx context.Context) error {
	err := e.commonPrerequisites(ctx)
	errs := []error{err}

	for _, fn := range e.stack.Functions {
		var arn string
		err := e.retry(ctx, func(ctx context.Context) error {
			var err error
			arn, err = e.provider.FunctionARN(ctx, fn.Name)
			return err
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.outputs[ir.Address(ir.KindFunction, fn.Name)] = arn
	}

	if e.stack.API != nil {
		var id string
		if err := e.retry(ctx, func(ctx context.Context) error {
			var err error
			id, err = e.provider.FindRestAPI(ctx, e.stack.API.Name)
			return err
		}); err != nil {
			errs = append(errs, err)
		} else if id == "" {
			logging.Warn("rest api not found, skipping api permissions", "api", e.stack.API.Name)
		} else {
			e.outputs[ir.Address(ir.KindRestAPI, e.stack.API.Name)] = id
		}
	}

	if err := errors.Join(errs...); err != nil {
		logging.Error("prerequisite check failed", "error", err)
		return err
	}
	return nil
}

// run executes steps in dependency order and records each result.
func (e *Engine) run(ctx context.Context, report *ir.Report, steps []*Step) (*ir.Report, error) {
	dag, err := BuildDAG(steps)
	if err != nil {
		return e.finish(report), err
	}

	byAddr := make(map[string]*Step, len(steps))
	for _, s := range steps {
		byAddr[s.Address] = s
	}

	failed := make(map[string]bool)
	var errs []error

	for _, addr := range dag.CreationOrder() {
		if err := ctx.Err(); err != nil {
			return e.finish(report), fmt.Errorf("run cancelled: %w", err)
		}
		step := byAddr[addr]

		var res *ir.Result
		if dep := failedDependency(dag, addr, failed); dep != "" {
			res = &ir.Result{
				Address: addr,
				Kind:    step.Kind,
				Outcome: ir.OutcomeFailed,
				Err:     fmt.Errorf("skipped: dependency %s failed", dep),
			}
		} else {
			res = e.runStep(ctx, step)
		}

		e.record(report, step, res)

		if res.Outcome == ir.OutcomeFailed {
			failed[addr] = true
			err := fmt.Errorf("%s: %w", addr, res.Err)
			if !e.opts.ContinueOnError {
				return e.finish(report), err
			}
			errs = append(errs, err)
		}
	}

	e.finish(report)
	logging.Info("run finished",
		"command", report.Command,
		"created", report.Summary.Created,
		"updated", report.Summary.Updated,
		"unchanged", report.Summary.Unchanged,
		"failed", report.Summary.Failed,
	)

	if len(errs) > 0 {
		return report, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return report, nil
}

func failedDependency(dag *DAG, addr string, failed map[string]bool) string {
	for _, dep := range dag.Dependencies(addr) {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

// runStep runs one ensure call, retrying transient errors within the step timeout.
func (e *Engine) runStep(ctx context.Context, step *Step) *ir.Result {
	start := time.Now()
	logging.Debug("ensuring resource", "address", step.Address, "kind", step.Kind)

	var change aws.Change
	err := e.retry(ctx, func(ctx context.Context) error {
		c, err := step.run(ctx)
		if err != nil {
			return err
		}
		change = c
		return nil
	})

	res := &ir.Result{
		Address:  step.Address,
		Kind:     step.Kind,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Outcome = ir.OutcomeFailed
		res.Err = err
		return res
	}
	res.Outcome = change.Outcome
	res.ID = change.ID
	res.Detail = change.Detail
	return res
}

// record stores the result in the report, remembers the remote id for
// dependent steps and notifies the callback.
func (e *Engine) record(report *ir.Report, step *Step, res *ir.Result) {
	report.Record(res)

	if res.Outcome == ir.OutcomeFailed {
		logging.Error("resource failed", "address", res.Address, "kind", res.Kind, "error", res.Err)
	} else {
		logging.Info("resource reconciled", "address", res.Address, "kind", res.Kind, "outcome", res.Outcome)
		if res.ID != "" {
			e.outputs[res.Address] = res.ID
		}
		if isAPIKind(step.Kind) && res.Outcome != ir.OutcomeUnchanged {
			e.apiChanged = true
		}
		e.setOutputs(report, step, res)
	}

	if e.callback != nil {
		e.callback(res)
	}
}

func (e *Engine) setOutputs(report *ir.Report, step *Step, res *ir.Result) {
	switch step.Kind {
	case ir.KindFunction:
		for _, fn := range e.stack.Functions {
			if ir.Address(ir.KindFunction, fn.Name) == step.Address {
				report.SetOutput(fn.Key+"_function_arn", res.ID)
			}
		}
	case ir.KindRestAPI:
		report.SetOutput("api_id", res.ID)
		report.SetOutput("invoke_url", e.provider.InvokeURL(res.ID, e.stack.API.Stage))
	}
}

func isAPIKind(kind ir.Kind) bool {
	switch kind {
	case ir.KindRestAPI, ir.KindAPIResource, ir.KindAPIMethod, ir.KindAPIIntegration, ir.KindAPIMethodResponse:
		return true
	}
	return false
}
