// Package stack builds the desired resource tree of the ride-request comparison demo.
package stack

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ride-compare/rideops/internal/config"
	"github.com/ride-compare/rideops/internal/ir"
)

// Function keys. Code packages are expected at <code-dir>/<key>.zip.
const (
	KeyProducer         = "producer"
	KeySQSConsumer      = "sqs-consumer"
	KeyRabbitMQConsumer = "rabbitmq-consumer"
	KeyComparison       = "comparison"
)

// Environment keys read by the function bodies. The names are a contract and must not change.
const (
	EnvSQSQueueURL      = "SQS_QUEUE_URL"
	EnvRabbitMQHost     = "RABBITMQ_HOST"
	EnvRabbitMQPort     = "RABBITMQ_PORT"
	EnvRabbitMQUser     = "RABBITMQ_USER"
	EnvRabbitMQPassword = "RABBITMQ_PASSWORD"
	EnvRabbitMQQueue    = "RABBITMQ_QUEUE"
	EnvS3BucketName     = "S3_BUCKET_NAME"
)

const defaultHandler = "lambda_function.lambda_handler"

// maxBatchSize is the SQS event source mapping limit.
const maxBatchSize = 10000

// EnvironmentKeys returns the fixed, sorted set of keys every function receives.
func EnvironmentKeys() []string {
	keys := []string{
		EnvSQSQueueURL,
		EnvRabbitMQHost,
		EnvRabbitMQPort,
		EnvRabbitMQUser,
		EnvRabbitMQPassword,
		EnvRabbitMQQueue,
		EnvS3BucketName,
	}
	sort.Strings(keys)
	return keys
}

// SensitiveKeys are environment keys whose values are never printed.
var SensitiveKeys = map[string]bool{
	EnvRabbitMQPassword: true,
}

// Environment builds the environment mapping shared by all functions.
func Environment(cfg *config.Config, password string) map[string]string {
	return map[string]string{
		EnvSQSQueueURL:      cfg.QueueURL,
		EnvRabbitMQHost:     cfg.RabbitMQ.Host,
		EnvRabbitMQPort:     strconv.Itoa(cfg.RabbitMQ.Port),
		EnvRabbitMQUser:     cfg.RabbitMQ.User,
		EnvRabbitMQPassword: password,
		EnvRabbitMQQueue:    cfg.RabbitMQ.Queue,
		EnvS3BucketName:     cfg.BucketName,
	}
}

// Build returns the default desired stack for cfg. password is the resolved broker password.
func Build(cfg *config.Config, password string) *ir.Stack {
	fn := func(key, base, description string, timeout int32) *ir.Function {
		return &ir.Function{
			Key:         key,
			Name:        cfg.Name(base),
			Description: description,
			Runtime:     cfg.Runtime,
			Handler:     defaultHandler,
			Role:        cfg.Role,
			Timeout:     timeout,
			MemorySize:  256,
			CodePath:    filepath.Join(cfg.CodeDir, key+".zip"),
			Environment: Environment(cfg, password),
		}
	}

	return &ir.Stack{
		Functions: []*ir.Function{
			fn(KeyProducer, "ride-request-producer", "Publishes ride requests to SQS or RabbitMQ", 30),
			fn(KeySQSConsumer, "ride-request-sqs-consumer", "Consumes ride requests from SQS", 60),
			fn(KeyRabbitMQConsumer, "ride-request-rabbitmq-consumer", "Polls ride requests from RabbitMQ", 60),
			fn(KeyComparison, "ride-request-comparison", "Serves SQS vs RabbitMQ comparison metrics", 30),
		},
		Mappings: []*ir.EventSourceMapping{
			{Function: KeySQSConsumer, QueueURL: cfg.QueueURL, BatchSize: cfg.BatchSize},
		},
		Schedules: []*ir.Schedule{
			{
				Name:       cfg.Name("ride-request-rabbitmq-consumer-schedule"),
				Expression: cfg.ScheduleExpression,
				Function:   KeyRabbitMQConsumer,
				TargetID:   "rabbitmq-consumer",
			},
		},
		API: &ir.RestAPI{
			Name:        cfg.Name(cfg.APIName),
			Description: "Ride request comparison API",
			Stage:       cfg.StageName,
			Routes: []*ir.Route{
				{Path: "/request-ride", Method: "POST", Function: KeyProducer, QueryParams: []string{"queue"}, CORS: true},
				{Path: "/comparison", Method: "GET", Function: KeyComparison, QueryParams: []string{"details", "limit"}, CORS: true},
			},
		},
		LogRetentionDays: cfg.LogRetentionDays,
	}
}

// Merge overlays a stack file onto base. Functions are matched by key and only
// non-zero fields override; mappings, schedules and routes are replaced wholesale
// when the overlay declares any. Environments are never taken from the overlay.
func Merge(base, overlay *ir.Stack) (*ir.Stack, error) {
	if overlay == nil {
		return base, nil
	}

	for _, o := range overlay.Functions {
		fn := base.Function(o.Key)
		if fn == nil {
			return nil, fmt.Errorf("stack file declares unknown function key %q", o.Key)
		}
		if o.Name != "" {
			fn.Name = o.Name
		}
		if o.Description != "" {
			fn.Description = o.Description
		}
		if o.Runtime != "" {
			fn.Runtime = o.Runtime
		}
		if o.Handler != "" {
			fn.Handler = o.Handler
		}
		if o.Role != "" {
			fn.Role = o.Role
		}
		if o.Timeout != 0 {
			fn.Timeout = o.Timeout
		}
		if o.MemorySize != 0 {
			fn.MemorySize = o.MemorySize
		}
		if o.CodePath != "" {
			fn.CodePath = o.CodePath
		}
	}

	if len(overlay.Mappings) > 0 {
		// A mapping without a batch size keeps the configured one.
		batchSize := int32(0)
		if len(base.Mappings) > 0 {
			batchSize = base.Mappings[0].BatchSize
		}
		for _, m := range overlay.Mappings {
			if m.BatchSize == 0 {
				m.BatchSize = batchSize
			}
		}
		base.Mappings = overlay.Mappings
	}
	if len(overlay.Schedules) > 0 {
		base.Schedules = overlay.Schedules
	}
	if overlay.API != nil {
		if overlay.API.Name != "" {
			base.API.Name = overlay.API.Name
		}
		if overlay.API.Description != "" {
			base.API.Description = overlay.API.Description
		}
		if overlay.API.Stage != "" {
			base.API.Stage = overlay.API.Stage
		}
		if len(overlay.API.Routes) > 0 {
			base.API.Routes = overlay.API.Routes
		}
	}
	if overlay.LogRetentionDays != 0 {
		base.LogRetentionDays = overlay.LogRetentionDays
	}

	return base, Validate(base)
}

var allowedMethods = map[string]bool{"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true}

// Validate checks the stack for internal consistency.
func Validate(s *ir.Stack) error {
	want := strings.Join(EnvironmentKeys(), ",")
	names := make(map[string]bool)
	for _, fn := range s.Functions {
		if fn.Name == "" {
			return fmt.Errorf("function %q has no name", fn.Key)
		}
		if names[fn.Name] {
			return fmt.Errorf("duplicate function name %q", fn.Name)
		}
		names[fn.Name] = true

		keys := make([]string, 0, len(fn.Environment))
		for k := range fn.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if got := strings.Join(keys, ","); got != want {
			return fmt.Errorf("function %q environment keys %s do not match %s", fn.Key, got, want)
		}
	}

	mapped := make(map[string]bool)
	for _, m := range s.Mappings {
		if s.Function(m.Function) == nil {
			return fmt.Errorf("event source mapping references unknown function %q", m.Function)
		}
		if m.QueueURL == "" {
			return fmt.Errorf("event source mapping for %q has no queue URL", m.Function)
		}
		if m.BatchSize < 1 || m.BatchSize > maxBatchSize {
			return fmt.Errorf("event source mapping for %q: batch size %d out of range 1-%d", m.Function, m.BatchSize, maxBatchSize)
		}
		// Mappings are addressed by function, so each function gets at most one queue.
		if mapped[m.Function] {
			return fmt.Errorf("duplicate event source mapping for %q", m.Function)
		}
		mapped[m.Function] = true
	}

	for _, sch := range s.Schedules {
		if s.Function(sch.Function) == nil {
			return fmt.Errorf("schedule %q references unknown function %q", sch.Name, sch.Function)
		}
		if sch.Name == "" || sch.Expression == "" || sch.TargetID == "" {
			return fmt.Errorf("schedule for %q needs name, expression and target id", sch.Function)
		}
	}

	if s.API != nil {
		routes := make(map[string]bool)
		for _, r := range s.API.Routes {
			if s.Function(r.Function) == nil {
				return fmt.Errorf("route %s %s references unknown function %q", r.Method, r.Path, r.Function)
			}
			if !allowedMethods[r.Method] {
				return fmt.Errorf("route %s %s: unsupported method", r.Method, r.Path)
			}
			if !strings.HasPrefix(r.Path, "/") || r.Path == "/" || strings.Contains(r.Path, "//") || strings.HasSuffix(r.Path, "/") {
				return fmt.Errorf("route %s %s: path must be /segment[/segment...]", r.Method, r.Path)
			}
			key := r.Method + " " + r.Path
			if routes[key] {
				return fmt.Errorf("duplicate route %s", key)
			}
			routes[key] = true
		}
	}

	return nil
}
