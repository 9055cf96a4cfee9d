package aws

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/internal/logging"
)

// CodeSha256 returns the digest Lambda reports for a deployment package.
func CodeSha256(zip []byte) string {
	sum := sha256.Sum256(zip)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// EnsureFunction creates the function or updates its code and configuration in
// place. roleARN is the resolved execution role. The returned ID is the function ARN.
func (p *Provider) EnsureFunction(ctx context.Context, fn *ir.Function, roleARN string) (Change, error) {
	zip, err := os.ReadFile(fn.CodePath)
	if err != nil {
		return Change{}, &PrerequisiteError{Resource: "code package " + fn.CodePath, Err: err}
	}

	out, err := p.lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: &fn.Name})
	if err != nil && !IsNotFound(err) {
		return Change{}, fmt.Errorf("failed to get function %s: %w", fn.Name, err)
	}

	if err != nil {
		if p.preview {
			return created(KnownAfterApply, "would create function"), nil
		}
		resp, err := p.lambda.CreateFunction(ctx, &lambda.CreateFunctionInput{
			FunctionName: &fn.Name,
			Description:  &fn.Description,
			Runtime:      types.Runtime(fn.Runtime),
			Handler:      &fn.Handler,
			Role:         &roleARN,
			Timeout:      int32Ptr(fn.Timeout),
			MemorySize:   int32Ptr(fn.MemorySize),
			Code:         &types.FunctionCode{ZipFile: zip},
			Environment:  &types.Environment{Variables: fn.Environment},
		})
		if err != nil {
			return Change{}, fmt.Errorf("failed to create function: %w", err)
		}
		if err := p.waitActive(ctx, fn.Name); err != nil {
			return Change{}, err
		}
		logging.Info("created function", "name", fn.Name)
		return created(deref(resp.FunctionArn), ""), nil
	}

	current := out.Configuration
	arn := deref(current.FunctionArn)
	codeChanged := deref(current.CodeSha256) != CodeSha256(zip)
	configDiff := functionConfigDiff(current, fn, roleARN)

	if !codeChanged && len(configDiff) == 0 {
		return unchanged(arn, ""), nil
	}

	var parts []string
	if codeChanged {
		parts = append(parts, "code")
	}
	parts = append(parts, configDiff...)
	detail := strings.Join(parts, ", ")

	if p.preview {
		return updated(arn, "would update "+detail), nil
	}

	if codeChanged {
		if _, err := p.lambda.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
			FunctionName: &fn.Name,
			ZipFile:      zip,
		}); err != nil {
			return Change{}, fmt.Errorf("failed to update function code: %w", err)
		}
		if err := p.waitUpdated(ctx, fn.Name); err != nil {
			return Change{}, err
		}
	}

	if len(configDiff) > 0 {
		if _, err := p.lambda.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
			FunctionName: &fn.Name,
			Description:  &fn.Description,
			Runtime:      types.Runtime(fn.Runtime),
			Handler:      &fn.Handler,
			Role:         &roleARN,
			Timeout:      int32Ptr(fn.Timeout),
			MemorySize:   int32Ptr(fn.MemorySize),
			Environment:  &types.Environment{Variables: fn.Environment},
		}); err != nil {
			return Change{}, fmt.Errorf("failed to update function configuration: %w", err)
		}
		if err := p.waitUpdated(ctx, fn.Name); err != nil {
			return Change{}, err
		}
	}

	logging.Info("updated function", "name", fn.Name, "changed", detail)
	return updated(arn, detail), nil
}

// functionConfigDiff lists the configuration fields that differ. Environment
// values are compared but never named, so secrets stay out of logs.
func functionConfigDiff(current *types.FunctionConfiguration, fn *ir.Function, roleARN string) []string {
	var diff []string
	if string(current.Runtime) != fn.Runtime {
		diff = append(diff, "runtime")
	}
	if deref(current.Handler) != fn.Handler {
		diff = append(diff, "handler")
	}
	if deref(current.Role) != roleARN {
		diff = append(diff, "role")
	}
	if derefInt32(current.Timeout) != fn.Timeout {
		diff = append(diff, "timeout")
	}
	if derefInt32(current.MemorySize) != fn.MemorySize {
		diff = append(diff, "memory")
	}
	if deref(current.Description) != fn.Description {
		diff = append(diff, "description")
	}
	var env map[string]string
	if current.Environment != nil {
		env = current.Environment.Variables
	}
	if !maps.Equal(env, fn.Environment) {
		diff = append(diff, "environment")
	}
	return diff
}

func (p *Provider) waitActive(ctx context.Context, name string) error {
	waiter := lambda.NewFunctionActiveV2Waiter(p.lambda)
	if err := waiter.Wait(ctx, &lambda.GetFunctionInput{FunctionName: &name}, p.waitTimeout); err != nil {
		return fmt.Errorf("failed waiting for function %s to become active: %w", name, err)
	}
	return nil
}

func (p *Provider) waitUpdated(ctx context.Context, name string) error {
	waiter := lambda.NewFunctionUpdatedV2Waiter(p.lambda)
	if err := waiter.Wait(ctx, &lambda.GetFunctionInput{FunctionName: &name}, p.waitTimeout); err != nil {
		return fmt.Errorf("failed waiting for function %s update: %w", name, err)
	}
	return nil
}

// FunctionARN returns the ARN of an existing function or a PrerequisiteError.
func (p *Provider) FunctionARN(ctx context.Context, name string) (string, error) {
	out, err := p.lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: &name})
	if err != nil {
		if IsNotFound(err) {
			return "", &PrerequisiteError{Resource: "function " + name, Err: err}
		}
		return "", fmt.Errorf("failed to get function %s: %w", name, err)
	}
	return deref(out.Configuration.FunctionArn), nil
}

// listMappings returns every mapping between the function and the queue.
func (p *Provider) listMappings(ctx context.Context, functionName, queueARN string) ([]types.EventSourceMappingConfiguration, error) {
	var mappings []types.EventSourceMappingConfiguration
	pager := lambda.NewListEventSourceMappingsPaginator(p.lambda, &lambda.ListEventSourceMappingsInput{
		FunctionName:   &functionName,
		EventSourceArn: &queueARN,
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to list event source mappings: %w", err)
		}
		mappings = append(mappings, page.EventSourceMappings...)
	}
	return mappings, nil
}

// EnsureEventSourceMapping creates the mapping between the queue and the function
// when none exists. An existing mapping is left alone unless repair is set, in
// which case it is enabled and its batch size corrected. More than one mapping
// for the pair is an error. The returned ID is the mapping UUID.
func (p *Provider) EnsureEventSourceMapping(ctx context.Context, functionName, queueARN string, batchSize int32, repair bool) (Change, error) {
	mappings, err := p.listMappings(ctx, functionName, queueARN)
	if err != nil {
		return Change{}, err
	}

	switch len(mappings) {
	case 0:
		if p.preview {
			return created(KnownAfterApply, "would create mapping"), nil
		}
		out, err := p.lambda.CreateEventSourceMapping(ctx, &lambda.CreateEventSourceMappingInput{
			FunctionName:   &functionName,
			EventSourceArn: &queueARN,
			BatchSize:      int32Ptr(batchSize),
			Enabled:        boolPtr(true),
		})
		if err != nil {
			if IsConflict(err) {
				return unchanged("", "mapping created concurrently"), nil
			}
			return Change{}, fmt.Errorf("failed to create event source mapping: %w", err)
		}
		logging.Info("created event source mapping", "function", functionName, "uuid", deref(out.UUID))
		return created(deref(out.UUID), ""), nil
	case 1:
	default:
		return Change{}, fmt.Errorf("found %d event source mappings for %s and %s, expected at most one", len(mappings), functionName, queueARN)
	}

	m := mappings[0]
	uuid := deref(m.UUID)
	state := deref(m.State)
	enabled := state == "Enabled" || state == "Enabling" || state == "Creating" || state == "Updating"
	batchDrift := derefInt32(m.BatchSize) != batchSize

	if enabled && !batchDrift {
		return unchanged(uuid, ""), nil
	}

	drift := fmt.Sprintf("state=%s batch=%d", state, derefInt32(m.BatchSize))
	if !repair {
		logging.Warn("event source mapping drifted, run fix-triggers to repair", "uuid", uuid, "drift", drift)
		return unchanged(uuid, "drift: "+drift), nil
	}

	if p.preview {
		return updated(uuid, "would repair "+drift), nil
	}
	if _, err := p.lambda.UpdateEventSourceMapping(ctx, &lambda.UpdateEventSourceMappingInput{
		UUID:      &uuid,
		BatchSize: int32Ptr(batchSize),
		Enabled:   boolPtr(true),
	}); err != nil {
		return Change{}, fmt.Errorf("failed to update event source mapping: %w", err)
	}
	logging.Info("repaired event source mapping", "uuid", uuid, "was", drift)
	return updated(uuid, "repaired "+drift), nil
}

type policyDocument struct {
	Statement []struct {
		Sid string `json:"Sid"`
	} `json:"Statement"`
}

// StatementID derives a stable permission statement id from the caller.
func StatementID(principal, sourceARN string) string {
	parts := strings.Split(sourceARN, ":")
	sid := strings.ReplaceAll(principal, ".", "-") + "__" + parts[len(parts)-1]
	sid = strings.NewReplacer("*", "ALL", ".", "DOT", "-", "_", "/", "__").Replace(sid)
	if len(sid) > 100 {
		sid = sid[:100]
	}
	return sid
}

// PolicyStatementIDs returns the statement ids in the function's resource policy.
func (p *Provider) PolicyStatementIDs(ctx context.Context, functionName string) ([]string, error) {
	out, err := p.lambda.GetPolicy(ctx, &lambda.GetPolicyInput{FunctionName: &functionName})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	var doc policyDocument
	if err := json.Unmarshal([]byte(deref(out.Policy)), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy of %s: %w", functionName, err)
	}
	sids := make([]string, 0, len(doc.Statement))
	for _, st := range doc.Statement {
		sids = append(sids, st.Sid)
	}
	sort.Strings(sids)
	return sids, nil
}

// EnsurePermission grants principal the right to invoke the function from sourceARN.
// An existing statement, or a conflict on add, is unchanged.
func (p *Provider) EnsurePermission(ctx context.Context, functionName, principal, sourceARN string) (Change, error) {
	sid := StatementID(principal, sourceARN)

	sids, err := p.PolicyStatementIDs(ctx, functionName)
	if err != nil {
		return Change{}, err
	}
	for _, s := range sids {
		if s == sid {
			return unchanged(sid, ""), nil
		}
	}

	if p.preview {
		return created(sid, "would add permission for "+principal), nil
	}
	_, err = p.lambda.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName: &functionName,
		StatementId:  &sid,
		Action:       strPtr("lambda:InvokeFunction"),
		Principal:    &principal,
		SourceArn:    &sourceARN,
	})
	if err != nil {
		if IsConflict(err) {
			return unchanged(sid, "statement already exists"), nil
		}
		return Change{}, fmt.Errorf("failed to add permission: %w", err)
	}
	logging.Info("added permission", "function", functionName, "principal", principal)
	return created(sid, ""), nil
}
