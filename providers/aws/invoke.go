package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// InvokeHTTP sends a synthetic API Gateway proxy request straight to a function
// and decodes the proxy response.
func (p *Provider) InvokeHTTP(ctx context.Context, functionName string, req events.APIGatewayProxyRequest) (*events.APIGatewayProxyResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	out, err := p.lambda.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: &functionName,
		Payload:      payload,
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, &PrerequisiteError{Resource: "function " + functionName, Err: err}
		}
		return nil, fmt.Errorf("failed to invoke %s: %w", functionName, err)
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("function %s returned %s: %s", functionName, *out.FunctionError, out.Payload)
	}

	var resp events.APIGatewayProxyResponse
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response of %s: %w", functionName, err)
	}
	return &resp, nil
}
