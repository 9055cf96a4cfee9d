package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/internal/stack"
)

var (
	invokeQueue   string
	invokeBody    string
	invokeDetails bool
	invokeLimit   int
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <producer|comparison>",
	Short: "Send a test request straight to a deployed function",
	Long: `Invokes the producer or the comparison function with the same proxy
event API Gateway would send, and prints the response.

  rideops invoke producer --queue rabbitmq
  rideops invoke comparison --details --limit 20`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{stack.KeyProducer, stack.KeyComparison},
	RunE:      runInvoke,
}

func init() {
	invokeCmd.Flags().StringVar(&invokeQueue, "queue", "sqs", "Producer target queue: sqs or rabbitmq")
	invokeCmd.Flags().StringVar(&invokeBody, "body", "", "Producer request body (JSON)")
	invokeCmd.Flags().BoolVar(&invokeDetails, "details", false, "Ask the comparison function for per-request details")
	invokeCmd.Flags().IntVar(&invokeLimit, "limit", 10, "Number of records the comparison function returns")
}

func runInvoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := newSession(ctx)
	if err != nil {
		return err
	}

	fn := s.stack.Function(args[0])
	if fn == nil {
		return fmt.Errorf("unknown function %q", args[0])
	}
	req, err := proxyRequest(s.stack, fn.Key)
	if err != nil {
		return err
	}

	resp, err := s.provider(false).InvokeHTTP(ctx, fn.Name, req)
	if err != nil {
		return err
	}
	renderResponse(cmd.OutOrStdout(), resp)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s responded with status %d", fn.Name, resp.StatusCode)
	}
	return nil
}

// proxyRequest builds the event API Gateway sends for the route served by key.
func proxyRequest(st *ir.Stack, key string) (events.APIGatewayProxyRequest, error) {
	var route *ir.Route
	stage := ""
	if st.API != nil {
		stage = st.API.Stage
		for _, r := range st.API.Routes {
			if r.Function == key {
				route = r
				break
			}
		}
	}
	if route == nil {
		return events.APIGatewayProxyRequest{}, fmt.Errorf("function %q is not served by any API route", key)
	}

	params := map[string]string{}
	body := ""
	switch key {
	case stack.KeyProducer:
		if invokeQueue != "sqs" && invokeQueue != "rabbitmq" {
			return events.APIGatewayProxyRequest{}, fmt.Errorf("--queue must be sqs or rabbitmq, got %q", invokeQueue)
		}
		params["queue"] = invokeQueue
		body = invokeBody
	case stack.KeyComparison:
		if invokeLimit < 1 {
			return events.APIGatewayProxyRequest{}, fmt.Errorf("--limit must be positive, got %d", invokeLimit)
		}
		params["details"] = strconv.FormatBool(invokeDetails)
		params["limit"] = strconv.Itoa(invokeLimit)
	}

	return events.APIGatewayProxyRequest{
		Resource:              route.Path,
		Path:                  route.Path,
		HTTPMethod:            route.Method,
		Headers:               map[string]string{"Content-Type": "application/json"},
		QueryStringParameters: params,
		Body:                  body,
		RequestContext: events.APIGatewayProxyRequestContext{
			Stage:        stage,
			RequestID:    uuid.NewString(),
			ResourcePath: route.Path,
			HTTPMethod:   route.Method,
		},
	}, nil
}

func renderResponse(w io.Writer, resp *events.APIGatewayProxyResponse) {
	fmt.Fprintf(w, "HTTP %d\n", resp.StatusCode)
	keys := make([]string, 0, len(resp.Headers))
	for k := range resp.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, resp.Headers[k])
	}
	fmt.Fprintf(w, "\n%s\n", resp.Body)
}
