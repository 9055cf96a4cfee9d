package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile         string
	envFile         string
	noColor         bool
	reportDest      string
	continueOnError bool

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "rideops",
	Short: "Deploy and repair the ride-request queue comparison stack",
	Long: `rideops reconciles the AWS resources of the ride-request SQS vs RabbitMQ
comparison: four Lambda functions, the SQS trigger, the RabbitMQ polling
schedule, the invoke permissions and the REST API in front of the producer
and comparison functions.

Every command is idempotent. Re-running after a partial failure converges.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. An interrupt cancels the run between resources.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// flagBindings maps persistent flags to config keys.
var flagBindings = map[string]string{
	"region":     "region",
	"profile":    "profile",
	"namespace":  "namespace",
	"stack":      "stack_file",
	"code-dir":   "code_dir",
	"log-level":  "log_level",
	"log-format": "log_format",
	"lock-table": "lock_table",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./rideops.yaml if present)")
	pf.StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the environment is read")
	pf.String("region", "", "AWS region")
	pf.String("profile", "", "AWS shared config profile")
	pf.String("namespace", "", "Suffix appended to every resource name")
	pf.String("stack", "", "YAML or Pkl stack file overlaying the built-in resources")
	pf.String("code-dir", "", "Directory holding <function-key>.zip packages")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text or json")
	pf.String("lock-table", "", "DynamoDB table used to serialize runs")
	pf.StringVar(&reportDest, "report", "", "Write the run report as JSON to a path or s3://bucket/key")
	pf.BoolVar(&continueOnError, "continue-on-error", false, "Keep going after a resource fails and report every failure")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")

	for flag, key := range flagBindings {
		if err := v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", flag, err))
		}
	}

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(fixTriggersCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
