package aws

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apigateway/types"

	"github.com/ride-compare/rideops/internal/ir"
	"github.com/ride-compare/rideops/internal/logging"
)

const corsAllowHeaders = "'Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token'"

// throttle blocks until the client-side API Gateway rate limit admits a call.
func (p *Provider) throttle(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// InvokeURL is the public base URL of a deployed stage.
func (p *Provider) InvokeURL(apiID, stage string) string {
	if apiID == KnownAfterApply {
		return KnownAfterApply
	}
	return fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", apiID, p.region, stage)
}

// ExecuteAPISourceARN is the source ARN that lets every stage and method of the API invoke a function.
func (p *Provider) ExecuteAPISourceARN(apiID string) string {
	return fmt.Sprintf("arn:aws:execute-api:%s:%s:%s/*/*", p.region, p.account, apiID)
}

// FindRestAPI returns the id of the API with the given name, or "" when none exists.
// Duplicate names are an error because the tree could not be reconciled safely.
func (p *Provider) FindRestAPI(ctx context.Context, name string) (string, error) {
	var ids []string
	pager := apigateway.NewGetRestApisPaginator(p.apigw, &apigateway.GetRestApisInput{Limit: int32Ptr(500)})
	for pager.HasMorePages() {
		if err := p.throttle(ctx); err != nil {
			return "", err
		}
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list rest apis: %w", err)
		}
		for _, api := range page.Items {
			if deref(api.Name) == name {
				ids = append(ids, deref(api.Id))
			}
		}
	}

	switch len(ids) {
	case 0:
		return "", nil
	case 1:
		return ids[0], nil
	default:
		sort.Strings(ids)
		return "", fmt.Errorf("found %d rest apis named %s (%s), expected at most one", len(ids), name, strings.Join(ids, ", "))
	}
}

// EnsureRestAPI finds the API by name or creates a regional one. The returned ID is the API id.
func (p *Provider) EnsureRestAPI(ctx context.Context, api *ir.RestAPI) (Change, error) {
	id, err := p.FindRestAPI(ctx, api.Name)
	if err != nil {
		return Change{}, err
	}
	if id != "" {
		return unchanged(id, ""), nil
	}

	if p.preview {
		return created(KnownAfterApply, "would create rest api"), nil
	}
	if err := p.throttle(ctx); err != nil {
		return Change{}, err
	}
	out, err := p.apigw.CreateRestApi(ctx, &apigateway.CreateRestApiInput{
		Name:        &api.Name,
		Description: &api.Description,
		EndpointConfiguration: &types.EndpointConfiguration{
			Types: []types.EndpointType{types.EndpointTypeRegional},
		},
	})
	if err != nil {
		return Change{}, fmt.Errorf("failed to create rest api: %w", err)
	}
	logging.Info("created rest api", "name", api.Name, "id", deref(out.Id))
	return created(deref(out.Id), ""), nil
}

// resourcePaths fetches the API's resource tree once and caches path -> id.
func (p *Provider) resourcePaths(ctx context.Context, apiID string) (map[string]string, error) {
	if paths, ok := p.resources[apiID]; ok {
		return paths, nil
	}

	paths := make(map[string]string)
	if apiID == KnownAfterApply {
		paths["/"] = KnownAfterApply
		p.resources[apiID] = paths
		return paths, nil
	}

	pager := apigateway.NewGetResourcesPaginator(p.apigw, &apigateway.GetResourcesInput{
		RestApiId: &apiID,
		Limit:     int32Ptr(500),
	})
	for pager.HasMorePages() {
		if err := p.throttle(ctx); err != nil {
			return nil, err
		}
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get resources of %s: %w", apiID, err)
		}
		for _, r := range page.Items {
			paths[deref(r.Path)] = deref(r.Id)
		}
	}
	p.resources[apiID] = paths
	return paths, nil
}

// APIResourcePaths returns the sorted resource paths of an API.
func (p *Provider) APIResourcePaths(ctx context.Context, apiID string) ([]string, error) {
	paths, err := p.resourcePaths(ctx, apiID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// EnsureAPIResource ensures every segment of path exists under the root resource.
// The returned ID is the id of the last segment.
func (p *Provider) EnsureAPIResource(ctx context.Context, apiID, path string) (Change, error) {
	paths, err := p.resourcePaths(ctx, apiID)
	if err != nil {
		return Change{}, err
	}
	if id, ok := paths[path]; ok {
		if id == KnownAfterApply {
			return created(id, "would create resource"), nil
		}
		return unchanged(id, ""), nil
	}

	parentID, ok := paths["/"]
	if !ok {
		return Change{}, fmt.Errorf("rest api %s has no root resource", apiID)
	}

	current := ""
	for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		current += "/" + part
		if id, ok := paths[current]; ok {
			parentID = id
			continue
		}
		if p.preview || parentID == KnownAfterApply {
			paths[current] = KnownAfterApply
			parentID = KnownAfterApply
			continue
		}

		if err := p.throttle(ctx); err != nil {
			return Change{}, err
		}
		out, err := p.apigw.CreateResource(ctx, &apigateway.CreateResourceInput{
			RestApiId: &apiID,
			ParentId:  &parentID,
			PathPart:  &part,
		})
		if err != nil {
			return Change{}, fmt.Errorf("failed to create resource %s: %w", current, err)
		}
		paths[current] = deref(out.Id)
		parentID = deref(out.Id)
		logging.Info("created api resource", "path", current, "id", parentID)
	}

	if parentID == KnownAfterApply {
		return created(parentID, "would create resource"), nil
	}
	return created(parentID, ""), nil
}

func (p *Provider) resourceID(ctx context.Context, apiID, path string) (string, error) {
	paths, err := p.resourcePaths(ctx, apiID)
	if err != nil {
		return "", err
	}
	id, ok := paths[path]
	if !ok {
		return "", fmt.Errorf("rest api %s has no resource %s", apiID, path)
	}
	return id, nil
}

const queryParamPrefix = "method.request.querystring."

func queryParameters(params []string) map[string]bool {
	out := make(map[string]bool, len(params))
	for _, q := range params {
		out[queryParamPrefix+q] = false
	}
	return out
}

// EnsureMethod ensures an unauthenticated method exists on path with the
// declared optional query parameters.
func (p *Provider) EnsureMethod(ctx context.Context, apiID, path, method string, params []string) (Change, error) {
	id := method + " " + path
	resID, err := p.resourceID(ctx, apiID, path)
	if err != nil {
		return Change{}, err
	}
	if resID == KnownAfterApply {
		return created(id, "would create method"), nil
	}

	if err := p.throttle(ctx); err != nil {
		return Change{}, err
	}
	out, err := p.apigw.GetMethod(ctx, &apigateway.GetMethodInput{
		RestApiId:  &apiID,
		ResourceId: &resID,
		HttpMethod: &method,
	})
	if err != nil && !IsNotFound(err) {
		return Change{}, fmt.Errorf("failed to get method %s: %w", id, err)
	}

	want := queryParameters(params)
	if err != nil {
		if p.preview {
			return created(id, "would create method"), nil
		}
		if err := p.throttle(ctx); err != nil {
			return Change{}, err
		}
		if _, err := p.apigw.PutMethod(ctx, &apigateway.PutMethodInput{
			RestApiId:         &apiID,
			ResourceId:        &resID,
			HttpMethod:        &method,
			AuthorizationType: strPtr("NONE"),
			RequestParameters: want,
		}); err != nil {
			return Change{}, fmt.Errorf("failed to put method %s: %w", id, err)
		}
		logging.Info("created api method", "method", id)
		return created(id, ""), nil
	}

	var ops []types.PatchOperation
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := out.RequestParameters[k]; !ok {
			ops = append(ops, types.PatchOperation{
				Op:    types.OpAdd,
				Path:  strPtr("/requestParameters/" + k),
				Value: strPtr("false"),
			})
		}
	}
	var stale []string
	for k := range out.RequestParameters {
		if _, ok := want[k]; !ok && strings.HasPrefix(k, queryParamPrefix) {
			stale = append(stale, k)
		}
	}
	sort.Strings(stale)
	for _, k := range stale {
		ops = append(ops, types.PatchOperation{
			Op:   types.OpRemove,
			Path: strPtr("/requestParameters/" + k),
		})
	}
	if deref(out.AuthorizationType) != "NONE" {
		ops = append(ops, types.PatchOperation{
			Op:    types.OpReplace,
			Path:  strPtr("/authorizationType"),
			Value: strPtr("NONE"),
		})
	}
	if len(ops) == 0 {
		return unchanged(id, ""), nil
	}

	if p.preview {
		return updated(id, fmt.Sprintf("would apply %d changes", len(ops))), nil
	}
	if err := p.throttle(ctx); err != nil {
		return Change{}, err
	}
	if _, err := p.apigw.UpdateMethod(ctx, &apigateway.UpdateMethodInput{
		RestApiId:       &apiID,
		ResourceId:      &resID,
		HttpMethod:      &method,
		PatchOperations: ops,
	}); err != nil {
		return Change{}, fmt.Errorf("failed to update method %s: %w", id, err)
	}
	logging.Info("updated api method", "method", id, "changes", len(ops))
	return updated(id, fmt.Sprintf("%d changes", len(ops))), nil
}

// LambdaIntegrationURI is the API Gateway URI that proxies to a function.
func (p *Provider) LambdaIntegrationURI(functionARN string) string {
	return fmt.Sprintf("arn:aws:apigateway:%s:lambda:path/2015-03-31/functions/%s/invocations", p.region, functionARN)
}

type integration struct {
	kind       types.IntegrationType
	httpMethod string
	uri        string
	templates  map[string]string
}

func (p *Provider) ensureIntegration(ctx context.Context, apiID, path, method string, want integration) (Change, error) {
	id := method + " " + path
	resID, err := p.resourceID(ctx, apiID, path)
	if err != nil {
		return Change{}, err
	}
	if resID == KnownAfterApply {
		return created(id, "would create integration"), nil
	}

	if err := p.throttle(ctx); err != nil {
		return Change{}, err
	}
	out, err := p.apigw.GetIntegration(ctx, &apigateway.GetIntegrationInput{
		RestApiId:  &apiID,
		ResourceId: &resID,
		HttpMethod: &method,
	})
	if err != nil && !IsNotFound(err) {
		return Change{}, fmt.Errorf("failed to get integration %s: %w", id, err)
	}

	exists := err == nil
	if exists && out.Type == want.kind && deref(out.Uri) == want.uri && deref(out.HttpMethod) == want.httpMethod &&
		maps.Equal(out.RequestTemplates, want.templates) {
		return unchanged(id, ""), nil
	}

	if p.preview {
		if exists {
			return updated(id, "would repoint integration"), nil
		}
		return created(id, "would create integration"), nil
	}

	input := &apigateway.PutIntegrationInput{
		RestApiId:        &apiID,
		ResourceId:       &resID,
		HttpMethod:       &method,
		Type:             want.kind,
		RequestTemplates: want.templates,
	}
	if want.uri != "" {
		input.Uri = &want.uri
	}
	if want.httpMethod != "" {
		input.IntegrationHttpMethod = &want.httpMethod
	}
	if err := p.throttle(ctx); err != nil {
		return Change{}, err
	}
	if _, err := p.apigw.PutIntegration(ctx, input); err != nil {
		return Change{}, fmt.Errorf("failed to put integration %s: %w", id, err)
	}

	if exists {
		logging.Info("updated api integration", "method", id, "type", want.kind)
		return updated(id, "repointed"), nil
	}
	logging.Info("created api integration", "method", id, "type", want.kind)
	return created(id, ""), nil
}

// EnsureProxyIntegration points method on path at the function through a Lambda proxy integration.
func (p *Provider) EnsureProxyIntegration(ctx context.Context, apiID, path, method, functionARN string) (Change, error) {
	return p.ensureIntegration(ctx, apiID, path, method, integration{
		kind:       types.IntegrationTypeAwsProxy,
		httpMethod: "POST",
		uri:        p.LambdaIntegrationURI(functionARN),
	})
}

// EnsureMockIntegration answers OPTIONS on path without calling a backend.
func (p *Provider) EnsureMockIntegration(ctx context.Context, apiID, path string) (Change, error) {
	return p.ensureIntegration(ctx, apiID, path, "OPTIONS", integration{
		kind:      types.IntegrationTypeMock,
		templates: map[string]string{"application/json": `{"statusCode": 200}`},
	})
}

func corsHeaders(methods []string) map[string]string {
	allow := append([]string{"OPTIONS"}, methods...)
	sort.Strings(allow)
	return map[string]string{
		"method.response.header.Access-Control-Allow-Headers": corsAllowHeaders,
		"method.response.header.Access-Control-Allow-Methods": "'" + strings.Join(allow, ",") + "'",
		"method.response.header.Access-Control-Allow-Origin":  "'*'",
	}
}

// EnsureCORSResponse ensures the OPTIONS method on path returns 200 with the
// Access-Control-Allow-* headers for the given methods.
func (p *Provider) EnsureCORSResponse(ctx context.Context, apiID, path string, methods []string) (Change, error) {
	id := "OPTIONS " + path + " 200"
	resID, err := p.resourceID(ctx, apiID, path)
	if err != nil {
		return Change{}, err
	}
	if resID == KnownAfterApply {
		return created(id, "would create cors response"), nil
	}

	headers := corsHeaders(methods)
	declared := make(map[string]bool, len(headers))
	for k := range headers {
		declared[k] = false
	}
	method, status := "OPTIONS", "200"

	if err := p.throttle(ctx); err != nil {
		return Change{}, err
	}
	mr, err := p.apigw.GetMethodResponse(ctx, &apigateway.GetMethodResponseInput{
		RestApiId:  &apiID,
		ResourceId: &resID,
		HttpMethod: &method,
		StatusCode: &status,
	})
	if err != nil && !IsNotFound(err) {
		return Change{}, fmt.Errorf("failed to get method response %s: %w", id, err)
	}
	methodResponseExists := err == nil
	needMethodResponse := !methodResponseExists
	if methodResponseExists {
		for k := range declared {
			if _, ok := mr.ResponseParameters[k]; !ok {
				needMethodResponse = true
			}
		}
	}

	if err := p.throttle(ctx); err != nil {
		return Change{}, err
	}
	intResp, err := p.apigw.GetIntegrationResponse(ctx, &apigateway.GetIntegrationResponseInput{
		RestApiId:  &apiID,
		ResourceId: &resID,
		HttpMethod: &method,
		StatusCode: &status,
	})
	if err != nil && !IsNotFound(err) {
		return Change{}, fmt.Errorf("failed to get integration response %s: %w", id, err)
	}
	needIntegrationResponse := err != nil || !maps.Equal(intResp.ResponseParameters, headers)

	if !needMethodResponse && !needIntegrationResponse {
		return unchanged(id, ""), nil
	}

	result := updated
	if !methodResponseExists {
		result = created
	}
	if p.preview {
		return result(id, "would set cors headers"), nil
	}

	if needMethodResponse {
		if err := p.throttle(ctx); err != nil {
			return Change{}, err
		}
		if _, err := p.apigw.PutMethodResponse(ctx, &apigateway.PutMethodResponseInput{
			RestApiId:          &apiID,
			ResourceId:         &resID,
			HttpMethod:         &method,
			StatusCode:         &status,
			ResponseParameters: declared,
			ResponseModels:     map[string]string{"application/json": "Empty"},
		}); err != nil {
			return Change{}, fmt.Errorf("failed to put method response %s: %w", id, err)
		}
	}
	if needIntegrationResponse {
		if err := p.throttle(ctx); err != nil {
			return Change{}, err
		}
		if _, err := p.apigw.PutIntegrationResponse(ctx, &apigateway.PutIntegrationResponseInput{
			RestApiId:          &apiID,
			ResourceId:         &resID,
			HttpMethod:         &method,
			StatusCode:         &status,
			ResponseParameters: headers,
		}); err != nil {
			return Change{}, fmt.Errorf("failed to put integration response %s: %w", id, err)
		}
	}

	logging.Info("set cors response", "path", path)
	return result(id, ""), nil
}

// EnsureDeployment deploys the API to stage when the stage is missing or the
// tree changed during this run. The returned ID is the deployment id.
func (p *Provider) EnsureDeployment(ctx context.Context, apiID, stage string, changed bool) (Change, error) {
	if apiID == KnownAfterApply {
		return created(KnownAfterApply, "would deploy stage "+stage), nil
	}

	if err := p.throttle(ctx); err != nil {
		return Change{}, err
	}
	out, err := p.apigw.GetStage(ctx, &apigateway.GetStageInput{RestApiId: &apiID, StageName: &stage})
	if err != nil && !IsNotFound(err) {
		return Change{}, fmt.Errorf("failed to get stage %s: %w", stage, err)
	}
	exists := err == nil
	if exists && !changed {
		return unchanged(deref(out.DeploymentId), ""), nil
	}

	if p.preview {
		if exists {
			return updated(deref(out.DeploymentId), "would redeploy stage "+stage), nil
		}
		return created(KnownAfterApply, "would deploy stage "+stage), nil
	}

	if err := p.throttle(ctx); err != nil {
		return Change{}, err
	}
	dep, err := p.apigw.CreateDeployment(ctx, &apigateway.CreateDeploymentInput{
		RestApiId:   &apiID,
		StageName:   &stage,
		Description: strPtr("rideops deployment"),
	})
	if err != nil {
		return Change{}, fmt.Errorf("failed to create deployment: %w", err)
	}

	logging.Info("deployed api", "api", apiID, "stage", stage, "deployment", deref(dep.Id))
	if exists {
		return updated(deref(dep.Id), "redeployed"), nil
	}
	return created(deref(dep.Id), ""), nil
}
