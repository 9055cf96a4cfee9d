package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/ride-compare/rideops/internal/config"
	"github.com/ride-compare/rideops/internal/engine"
	"github.com/ride-compare/rideops/internal/eval"
	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/internal/lock"
	"github.com/ride-compare/rideops/internal/logging"
	"github.com/ride-compare/rideops/internal/report"
	"github.com/ride-compare/rideops/internal/secrets"
	"github.com/ride-compare/rideops/internal/stack"
	"github.com/ride-compare/rideops/providers/aws"
)

// newClients builds the SDK clients. Tests replace it with an in-memory control plane.
var newClients = aws.LoadClients

// session is everything a command needs after startup.
type session struct {
	cfg     *config.Config
	clients *aws.Clients
	stack   *ir.Stack
}

// loadConfig reads and validates the configuration once, then configures logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile, envFile)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// desiredStack builds the built-in stack and applies the optional stack file on top.
func desiredStack(ctx context.Context, cfg *config.Config, password string) (*ir.Stack, error) {
	base := stack.Build(cfg, password)
	if cfg.StackFile == "" {
		if err := stack.Validate(base); err != nil {
			return nil, err
		}
		return base, nil
	}

	overlay, err := eval.LoadStack(ctx, cfg.StackFile)
	if err != nil {
		return nil, err
	}
	return stack.Merge(base, overlay)
}

// newSession loads config, clients, the broker password and the desired stack.
func newSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	clients, err := newClients(ctx, cfg.Region, cfg.Profile)
	if err != nil {
		return nil, err
	}

	password := cfg.RabbitMQ.Password
	if cfg.RabbitMQ.PasswordSecret != "" {
		if clients.SecretsManager == nil {
			return nil, fmt.Errorf("rabbitmq.password_secret is set but no Secrets Manager client is available")
		}
		password, err = secrets.NewManager(clients.SecretsManager).Password(ctx, cfg.RabbitMQ.PasswordSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve RabbitMQ password: %w", err)
		}
	}

	st, err := desiredStack(ctx, cfg, password)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, clients: clients, stack: st}, nil
}

func (s *session) provider(preview bool) *aws.Provider {
	return aws.New(s.clients, aws.Options{
		Region:       s.cfg.Region,
		Preview:      preview,
		APIRateLimit: s.cfg.APIRateLimit,
		WaitTimeout:  s.cfg.WaitTimeout,
	})
}

func (s *session) engine(preview, repair bool) *engine.Engine {
	return engine.New(s.provider(preview), s.stack, engine.Options{
		Repair:          repair,
		ContinueOnError: continueOnError,
		Timeout:         s.cfg.OperationTimeout,
		Bucket:          s.cfg.BucketName,
	})
}

// withLock runs fn under the DynamoDB run lock when a lock table is configured.
func (s *session) withLock(ctx context.Context, fn func() error) (err error) {
	if s.cfg.LockTable == "" {
		return fn()
	}
	if s.clients.DynamoDB == nil {
		return fmt.Errorf("lock table %s is set but no DynamoDB client is available", s.cfg.LockTable)
	}

	l := lock.New(s.clients.DynamoDB, s.cfg.LockTable, lock.Key(s.cfg.Region, s.cfg.Namespace))
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		// Release ignores cancellation of ctx.
		if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn()
}

// writeReport persists the report when --report is set. A report is written
// for failed runs too.
func (s *session) writeReport(ctx context.Context, r *ir.Report) error {
	if reportDest == "" || r == nil {
		return nil
	}
	w, err := report.NewWriter(reportDest, s.clients.S3)
	if err != nil {
		return err
	}
	dest, err := w.Write(ctx, r)
	if err != nil {
		return err
	}
	logging.Info("wrote run report", "destination", dest)
	return nil
}
