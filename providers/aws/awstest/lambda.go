package awstest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/google/uuid"
)

type statement struct {
	Sid       string `json:"Sid"`
	Effect    string `json:"Effect"`
	Principal struct {
		Service string `json:"Service"`
	} `json:"Principal"`
	Action    string `json:"Action"`
	Resource  string `json:"Resource"`
	Condition struct {
		ArnLike struct {
			SourceArn string `json:"AWS:SourceArn"`
		} `json:"ArnLike"`
	} `json:"Condition"`
}

// Lambda fakes the Lambda control plane.
type Lambda struct {
	*backend
	functions map[string]*types.FunctionConfiguration
	mappings  map[string]*types.EventSourceMappingConfiguration
	policies  map[string][]statement

	// Handler answers Invoke. The default returns a 200 proxy response.
	Handler func(name string, payload []byte) ([]byte, error)
}

func newLambda(b *backend) *Lambda {
	return &Lambda{
		backend:   b,
		functions: make(map[string]*types.FunctionConfiguration),
		mappings:  make(map[string]*types.EventSourceMappingConfiguration),
		policies:  make(map[string][]statement),
	}
}

func notFound(format string, args ...any) error {
	return &types.ResourceNotFoundException{Message: strPtr(fmt.Sprintf(format, args...))}
}

func conflict(format string, args ...any) error {
	return &types.ResourceConflictException{Message: strPtr(fmt.Sprintf(format, args...))}
}

func (l *Lambda) arn(name string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", l.region, l.account, name)
}

// lookup accepts a function name or ARN.
func (l *Lambda) lookup(nameOrARN *string) (*types.FunctionConfiguration, error) {
	name := deref(nameOrARN)
	if i := strings.LastIndex(name, ":function:"); i >= 0 {
		name = name[i+len(":function:"):]
	}
	fn, ok := l.functions[name]
	if !ok {
		return nil, notFound("Function not found: %s", l.arn(name))
	}
	return fn, nil
}

func sha(zip []byte) string {
	sum := sha256.Sum256(zip)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func copyConfig(fn *types.FunctionConfiguration) *types.FunctionConfiguration {
	c := *fn
	if fn.Environment != nil {
		c.Environment = &types.EnvironmentResponse{Variables: maps.Clone(fn.Environment.Variables)}
	}
	return &c
}

// Function returns a copy of a function's configuration, or nil.
func (l *Lambda) Function(name string) *types.FunctionConfiguration {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn, ok := l.functions[name]
	if !ok {
		return nil
	}
	return copyConfig(fn)
}

// FunctionNames returns the sorted names of every function.
func (l *Lambda) FunctionNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.functions))
	for name := range l.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mappings returns copies of every event source mapping.
func (l *Lambda) Mappings() []types.EventSourceMappingConfiguration {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.EventSourceMappingConfiguration, 0, len(l.mappings))
	for _, m := range l.mappings {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return deref(out[i].UUID) < deref(out[j].UUID) })
	return out
}

// AddMapping inserts a mapping directly, bypassing the duplicate check.
func (l *Lambda) AddMapping(functionName, queueARN string, batchSize int32, state string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.NewString()
	l.mappings[id] = &types.EventSourceMappingConfiguration{
		UUID:           &id,
		FunctionArn:    strPtr(l.arn(functionName)),
		EventSourceArn: &queueARN,
		BatchSize:      &batchSize,
		State:          &state,
	}
	return id
}

// StatementIDs returns the permission statement ids on a function.
func (l *Lambda) StatementIDs(name string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sids []string
	for _, st := range l.policies[name] {
		sids = append(sids, st.Sid)
	}
	sort.Strings(sids)
	return sids
}

func (l *Lambda) GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("GetFunction"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(params.FunctionName)
	if err != nil {
		return nil, err
	}
	return &lambda.GetFunctionOutput{Configuration: copyConfig(fn)}, nil
}

func (l *Lambda) CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("CreateFunction"); err != nil {
		return nil, err
	}
	name := deref(params.FunctionName)
	if _, ok := l.functions[name]; ok {
		return nil, conflict("Function already exist: %s", name)
	}

	fn := &types.FunctionConfiguration{
		FunctionName:     &name,
		FunctionArn:      strPtr(l.arn(name)),
		Description:      params.Description,
		Runtime:          params.Runtime,
		Handler:          params.Handler,
		Role:             params.Role,
		Timeout:          params.Timeout,
		MemorySize:       params.MemorySize,
		State:            types.StateActive,
		LastUpdateStatus: types.LastUpdateStatusSuccessful,
	}
	if params.Code != nil {
		fn.CodeSha256 = strPtr(sha(params.Code.ZipFile))
	}
	if params.Environment != nil {
		fn.Environment = &types.EnvironmentResponse{Variables: maps.Clone(params.Environment.Variables)}
	}
	l.functions[name] = fn
	return &lambda.CreateFunctionOutput{FunctionName: &name, FunctionArn: fn.FunctionArn}, nil
}

func (l *Lambda) UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("UpdateFunctionCode"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(params.FunctionName)
	if err != nil {
		return nil, err
	}
	fn.CodeSha256 = strPtr(sha(params.ZipFile))
	return &lambda.UpdateFunctionCodeOutput{FunctionArn: fn.FunctionArn, CodeSha256: fn.CodeSha256}, nil
}

func (l *Lambda) UpdateFunctionConfiguration(ctx context.Context, params *lambda.UpdateFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("UpdateFunctionConfiguration"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(params.FunctionName)
	if err != nil {
		return nil, err
	}
	if params.Description != nil {
		fn.Description = params.Description
	}
	if params.Runtime != "" {
		fn.Runtime = params.Runtime
	}
	if params.Handler != nil {
		fn.Handler = params.Handler
	}
	if params.Role != nil {
		fn.Role = params.Role
	}
	if params.Timeout != nil {
		fn.Timeout = params.Timeout
	}
	if params.MemorySize != nil {
		fn.MemorySize = params.MemorySize
	}
	if params.Environment != nil {
		fn.Environment = &types.EnvironmentResponse{Variables: maps.Clone(params.Environment.Variables)}
	}
	return &lambda.UpdateFunctionConfigurationOutput{FunctionArn: fn.FunctionArn}, nil
}

func (l *Lambda) ListEventSourceMappings(ctx context.Context, params *lambda.ListEventSourceMappingsInput, optFns ...func(*lambda.Options)) (*lambda.ListEventSourceMappingsOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("ListEventSourceMappings"); err != nil {
		return nil, err
	}

	var functionARN string
	if params.FunctionName != nil {
		fn, err := l.lookup(params.FunctionName)
		if err != nil {
			return nil, err
		}
		functionARN = deref(fn.FunctionArn)
	}

	out := &lambda.ListEventSourceMappingsOutput{}
	for _, m := range l.mappings {
		if functionARN != "" && deref(m.FunctionArn) != functionARN {
			continue
		}
		if params.EventSourceArn != nil && deref(m.EventSourceArn) != *params.EventSourceArn {
			continue
		}
		out.EventSourceMappings = append(out.EventSourceMappings, *m)
	}
	sort.Slice(out.EventSourceMappings, func(i, j int) bool {
		return deref(out.EventSourceMappings[i].UUID) < deref(out.EventSourceMappings[j].UUID)
	})
	return out, nil
}

func (l *Lambda) CreateEventSourceMapping(ctx context.Context, params *lambda.CreateEventSourceMappingInput, optFns ...func(*lambda.Options)) (*lambda.CreateEventSourceMappingOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("CreateEventSourceMapping"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(params.FunctionName)
	if err != nil {
		return nil, err
	}
	for _, m := range l.mappings {
		if deref(m.FunctionArn) == deref(fn.FunctionArn) && deref(m.EventSourceArn) == deref(params.EventSourceArn) {
			return nil, conflict("An event source mapping with SQS arn %s and function %s already exists", deref(m.EventSourceArn), deref(fn.FunctionName))
		}
	}

	batch := int32(10)
	if params.BatchSize != nil {
		batch = *params.BatchSize
	}
	state := "Enabled"
	if params.Enabled != nil && !*params.Enabled {
		state = "Disabled"
	}
	id := uuid.NewString()
	l.mappings[id] = &types.EventSourceMappingConfiguration{
		UUID:           &id,
		FunctionArn:    fn.FunctionArn,
		EventSourceArn: params.EventSourceArn,
		BatchSize:      &batch,
		State:          &state,
	}
	return &lambda.CreateEventSourceMappingOutput{UUID: &id, BatchSize: &batch, State: &state}, nil
}

func (l *Lambda) UpdateEventSourceMapping(ctx context.Context, params *lambda.UpdateEventSourceMappingInput, optFns ...func(*lambda.Options)) (*lambda.UpdateEventSourceMappingOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("UpdateEventSourceMapping"); err != nil {
		return nil, err
	}
	m, ok := l.mappings[deref(params.UUID)]
	if !ok {
		return nil, notFound("The resource you requested does not exist.")
	}
	if params.BatchSize != nil {
		m.BatchSize = params.BatchSize
	}
	if params.Enabled != nil {
		state := "Disabled"
		if *params.Enabled {
			state = "Enabled"
		}
		m.State = &state
	}
	return &lambda.UpdateEventSourceMappingOutput{UUID: m.UUID, BatchSize: m.BatchSize, State: m.State}, nil
}

func (l *Lambda) GetPolicy(ctx context.Context, params *lambda.GetPolicyInput, optFns ...func(*lambda.Options)) (*lambda.GetPolicyOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("GetPolicy"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(params.FunctionName)
	if err != nil {
		return nil, err
	}
	statements := l.policies[deref(fn.FunctionName)]
	if len(statements) == 0 {
		return nil, notFound("The resource you requested does not exist.")
	}
	doc, err := json.Marshal(map[string]any{
		"Version":   "2012-10-17",
		"Id":        "default",
		"Statement": statements,
	})
	if err != nil {
		return nil, err
	}
	return &lambda.GetPolicyOutput{Policy: strPtr(string(doc))}, nil
}

func (l *Lambda) AddPermission(ctx context.Context, params *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.hit("AddPermission"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(params.FunctionName)
	if err != nil {
		return nil, err
	}
	name := deref(fn.FunctionName)
	for _, st := range l.policies[name] {
		if st.Sid == deref(params.StatementId) {
			return nil, conflict("The statement id (%s) provided already exists. Please provide a new statement id, or remove the existing statement.", st.Sid)
		}
	}

	var st statement
	st.Sid = deref(params.StatementId)
	st.Effect = "Allow"
	st.Principal.Service = deref(params.Principal)
	st.Action = deref(params.Action)
	st.Resource = deref(fn.FunctionArn)
	st.Condition.ArnLike.SourceArn = deref(params.SourceArn)
	l.policies[name] = append(l.policies[name], st)
	return &lambda.AddPermissionOutput{}, nil
}

func (l *Lambda) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	l.mu.Lock()
	if err := l.hit("Invoke"); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	fn, err := l.lookup(params.FunctionName)
	handler := l.Handler
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if handler == nil {
		return &lambda.InvokeOutput{StatusCode: 200, Payload: []byte(`{"statusCode":200,"headers":{"Content-Type":"application/json"},"body":"{}"}`)}, nil
	}
	payload, err := handler(deref(fn.FunctionName), params.Payload)
	if err != nil {
		return &lambda.InvokeOutput{StatusCode: 200, FunctionError: strPtr("Unhandled"), Payload: []byte(err.Error())}, nil
	}
	return &lambda.InvokeOutput{StatusCode: 200, Payload: payload}, nil
}

func strPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
