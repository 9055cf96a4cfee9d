package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every rideops environment variable.
const EnvPrefix = "RIDEOPS"

// Config is the validated configuration of one rideops run.
type Config struct {
	Region    string `mapstructure:"region" validate:"required"`
	Profile   string `mapstructure:"profile"`
	Namespace string `mapstructure:"namespace" validate:"omitempty,alphanum,lowercase,max=16"`

	// Role is the Lambda execution role, as a name or a full ARN.
	Role       string `mapstructure:"role" validate:"required"`
	BucketName string `mapstructure:"bucket" validate:"required"`
	QueueURL   string `mapstructure:"queue_url" validate:"required,url"`

	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`

	CodeDir            string `mapstructure:"code_dir" validate:"required"`
	StackFile          string `mapstructure:"stack_file"`
	Runtime            string `mapstructure:"runtime" validate:"required"`
	ScheduleExpression string `mapstructure:"schedule" validate:"required,schedule"`
	BatchSize          int32  `mapstructure:"batch_size" validate:"min=1,max=10000"`
	APIName            string `mapstructure:"api_name" validate:"required"`
	StageName          string `mapstructure:"stage" validate:"required,alphanum"`
	LogRetentionDays   int32  `mapstructure:"log_retention_days" validate:"oneof=1 3 5 7 14 30 60 90 120 150 180 365 400 545 731 1096 1827 2192 2557 2922 3288 3653"`

	// WaitTimeout bounds waiting for a function to settle. The wait runs inside
	// the per-resource OperationTimeout, so it may not exceed it.
	WaitTimeout      time.Duration `mapstructure:"wait_timeout" validate:"min=1s,ltefield=OperationTimeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"min=1s"`
	APIRateLimit     float64       `mapstructure:"api_rate_limit" validate:"gt=0"`
	LockTable        string        `mapstructure:"lock_table"`

	LogLevel  string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `mapstructure:"log_format" validate:"omitempty,oneof=text json"`
}

// RabbitMQConfig holds the broker settings handed to the functions.
type RabbitMQConfig struct {
	Host           string `mapstructure:"host" validate:"required"`
	Port           int    `mapstructure:"port" validate:"min=1,max=65535"`
	User           string `mapstructure:"user" validate:"required"`
	Password       string `mapstructure:"password" validate:"required_without=PasswordSecret"`
	PasswordSecret string `mapstructure:"password_secret"`
	Queue          string `mapstructure:"queue" validate:"required"`
}

// envBindings maps config keys to the environment variables read for them, in priority order.
// The unprefixed names match what the functions and older shell scripts use.
var envBindings = map[string][]string{
	"region":                   {"RIDEOPS_REGION", "AWS_REGION", "AWS_DEFAULT_REGION"},
	"profile":                  {"RIDEOPS_PROFILE", "AWS_PROFILE"},
	"namespace":                {"RIDEOPS_NAMESPACE"},
	"role":                     {"RIDEOPS_ROLE", "LAMBDA_ROLE"},
	"bucket":                   {"RIDEOPS_BUCKET", "S3_BUCKET_NAME"},
	"queue_url":                {"RIDEOPS_QUEUE_URL", "SQS_QUEUE_URL"},
	"rabbitmq.host":            {"RIDEOPS_RABBITMQ_HOST", "RABBITMQ_HOST"},
	"rabbitmq.port":            {"RIDEOPS_RABBITMQ_PORT", "RABBITMQ_PORT"},
	"rabbitmq.user":            {"RIDEOPS_RABBITMQ_USER", "RABBITMQ_USER"},
	"rabbitmq.password":        {"RIDEOPS_RABBITMQ_PASSWORD", "RABBITMQ_PASSWORD"},
	"rabbitmq.password_secret": {"RIDEOPS_RABBITMQ_PASSWORD_SECRET"},
	"rabbitmq.queue":           {"RIDEOPS_RABBITMQ_QUEUE", "RABBITMQ_QUEUE"},
	"code_dir":                 {"RIDEOPS_CODE_DIR"},
	"stack_file":               {"RIDEOPS_STACK_FILE"},
	"runtime":                  {"RIDEOPS_RUNTIME"},
	"schedule":                 {"RIDEOPS_SCHEDULE"},
	"batch_size":               {"RIDEOPS_BATCH_SIZE"},
	"api_name":                 {"RIDEOPS_API_NAME"},
	"stage":                    {"RIDEOPS_STAGE"},
	"log_retention_days":       {"RIDEOPS_LOG_RETENTION_DAYS"},
	"wait_timeout":             {"RIDEOPS_WAIT_TIMEOUT"},
	"operation_timeout":        {"RIDEOPS_OPERATION_TIMEOUT"},
	"api_rate_limit":           {"RIDEOPS_API_RATE_LIMIT"},
	"lock_table":               {"RIDEOPS_LOCK_TABLE"},
	"log_level":                {"RIDEOPS_LOG_LEVEL", "LOG_LEVEL"},
	"log_format":               {"RIDEOPS_LOG_FORMAT"},
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("region", "us-east-1")
	v.SetDefault("role", "ride-request-lambda-role")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.queue", "ride-requests")
	v.SetDefault("code_dir", "./build")
	v.SetDefault("runtime", "python3.11")
	v.SetDefault("schedule", "rate(1 minute)")
	v.SetDefault("batch_size", 10)
	v.SetDefault("api_name", "ride-request-api")
	v.SetDefault("stage", "prod")
	v.SetDefault("log_retention_days", 7)
	v.SetDefault("wait_timeout", "90s")
	v.SetDefault("operation_timeout", "2m")
	v.SetDefault("api_rate_limit", 5.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load builds the configuration once: .env file, then config file, then environment,
// then any flags already bound to v. The result is validated before it is returned.
func Load(v *viper.Viper, configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	SetDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("rideops")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its validation tags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("schedule", validScheduleExpression); err != nil {
		return fmt.Errorf("failed to register schedule validation: %w", err)
	}

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func validScheduleExpression(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if !strings.HasSuffix(s, ")") {
		return false
	}
	return strings.HasPrefix(s, "rate(") || strings.HasPrefix(s, "cron(")
}

// Name applies the optional namespace to a base resource name.
func (c *Config) Name(base string) string {
	if c.Namespace == "" {
		return base
	}
	return base + "-" + c.Namespace
}
