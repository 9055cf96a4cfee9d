package awstest

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apigateway/types"
)

type method struct {
	authorization        string
	requestParameters    map[string]bool
	integration          *types.Integration
	methodResponses      map[string]map[string]bool
	integrationResponses map[string]map[string]string
}

type resource struct {
	id       string
	parentID string
	pathPart string
	path     string
	methods  map[string]*method
}

type restAPI struct {
	id          string
	name        string
	description string
	resources   map[string]*resource
	stages      map[string]string
	deployments int
}

// APIGateway fakes the REST API control plane.
type APIGateway struct {
	*backend
	apis map[string]*restAPI
}

func newAPIGateway(b *backend) *APIGateway {
	return &APIGateway{backend: b, apis: make(map[string]*restAPI)}
}

func apiNotFound(format string, args ...any) error {
	return &types.NotFoundException{Message: strPtr(fmt.Sprintf(format, args...))}
}

func (g *APIGateway) newID() string {
	return fmt.Sprintf("x%09d", g.nextID())
}

func (g *APIGateway) api(id *string) (*restAPI, error) {
	a, ok := g.apis[deref(id)]
	if !ok {
		return nil, apiNotFound("Invalid API identifier specified %s:%s", g.account, deref(id))
	}
	return a, nil
}

func (g *APIGateway) resource(apiID, resourceID *string) (*restAPI, *resource, error) {
	a, err := g.api(apiID)
	if err != nil {
		return nil, nil, err
	}
	r, ok := a.resources[deref(resourceID)]
	if !ok {
		return nil, nil, apiNotFound("Invalid Resource identifier specified")
	}
	return a, r, nil
}

func (g *APIGateway) method(apiID, resourceID, httpMethod *string) (*method, error) {
	_, r, err := g.resource(apiID, resourceID)
	if err != nil {
		return nil, err
	}
	m, ok := r.methods[deref(httpMethod)]
	if !ok {
		return nil, apiNotFound("Invalid Method identifier specified")
	}
	return m, nil
}

// AddRestAPI creates an API directly, without recording a call.
func (g *APIGateway) AddRestAPI(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createAPI(name, "")
}

func (g *APIGateway) createAPI(name, description string) string {
	id := g.newID()
	rootID := g.newID()
	g.apis[id] = &restAPI{
		id:          id,
		name:        name,
		description: description,
		resources: map[string]*resource{
			rootID: {id: rootID, path: "/", methods: make(map[string]*method)},
		},
		stages: make(map[string]string),
	}
	return id
}

// APIsNamed returns the ids of every API with the given name.
func (g *APIGateway) APIsNamed(name string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for id, a := range g.apis {
		if a.name == name {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Paths returns the sorted resource paths of an API.
func (g *APIGateway) Paths(apiID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.apis[apiID]
	if !ok {
		return nil
	}
	var paths []string
	for _, r := range a.resources {
		paths = append(paths, r.path)
	}
	sort.Strings(paths)
	return paths
}

// Methods returns the sorted HTTP methods declared on path.
func (g *APIGateway) Methods(apiID, path string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.apis[apiID]
	if !ok {
		return nil
	}
	var methods []string
	for _, r := range a.resources {
		if r.path != path {
			continue
		}
		for m := range r.methods {
			methods = append(methods, m)
		}
	}
	sort.Strings(methods)
	return methods
}

// Integration returns the integration of a method, or nil.
func (g *APIGateway) Integration(apiID, path, httpMethod string) *types.Integration {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.apis[apiID]
	if !ok {
		return nil
	}
	for _, r := range a.resources {
		if m, ok := r.methods[httpMethod]; ok && r.path == path && m.integration != nil {
			in := *m.integration
			return &in
		}
	}
	return nil
}

// RequestParameters returns the sorted request parameter names of a method.
func (g *APIGateway) RequestParameters(apiID, path, httpMethod string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	if a, ok := g.apis[apiID]; ok {
		for _, r := range a.resources {
			if m, ok := r.methods[httpMethod]; ok && r.path == path {
				for k := range m.requestParameters {
					out = append(out, k)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// SetRequestTemplates overwrites the templates of an existing integration.
func (g *APIGateway) SetRequestTemplates(apiID, path, httpMethod string, templates map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.apis[apiID]; ok {
		for _, r := range a.resources {
			if m, ok := r.methods[httpMethod]; ok && r.path == path && m.integration != nil {
				m.integration.RequestTemplates = templates
			}
		}
	}
}

// Deployments returns how many deployments an API has.
func (g *APIGateway) Deployments(apiID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.apis[apiID]; ok {
		return a.deployments
	}
	return 0
}

// Stage returns the deployment id of a stage, or "".
func (g *APIGateway) Stage(apiID, stage string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.apis[apiID]; ok {
		return a.stages[stage]
	}
	return ""
}

func (g *APIGateway) GetRestApis(ctx context.Context, params *apigateway.GetRestApisInput, optFns ...func(*apigateway.Options)) (*apigateway.GetRestApisOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("GetRestApis"); err != nil {
		return nil, err
	}
	out := &apigateway.GetRestApisOutput{}
	for _, a := range g.apis {
		out.Items = append(out.Items, types.RestApi{Id: strPtr(a.id), Name: strPtr(a.name), Description: strPtr(a.description)})
	}
	sort.Slice(out.Items, func(i, j int) bool { return deref(out.Items[i].Id) < deref(out.Items[j].Id) })
	return out, nil
}

func (g *APIGateway) CreateRestApi(ctx context.Context, params *apigateway.CreateRestApiInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateRestApiOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("CreateRestApi"); err != nil {
		return nil, err
	}
	id := g.createAPI(deref(params.Name), deref(params.Description))
	return &apigateway.CreateRestApiOutput{Id: &id, Name: params.Name}, nil
}

func (g *APIGateway) GetResources(ctx context.Context, params *apigateway.GetResourcesInput, optFns ...func(*apigateway.Options)) (*apigateway.GetResourcesOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("GetResources"); err != nil {
		return nil, err
	}
	a, err := g.api(params.RestApiId)
	if err != nil {
		return nil, err
	}
	out := &apigateway.GetResourcesOutput{}
	for _, r := range a.resources {
		item := types.Resource{Id: strPtr(r.id), Path: strPtr(r.path)}
		if r.parentID != "" {
			item.ParentId = strPtr(r.parentID)
			item.PathPart = strPtr(r.pathPart)
		}
		out.Items = append(out.Items, item)
	}
	sort.Slice(out.Items, func(i, j int) bool { return deref(out.Items[i].Path) < deref(out.Items[j].Path) })
	return out, nil
}

func (g *APIGateway) CreateResource(ctx context.Context, params *apigateway.CreateResourceInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateResourceOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("CreateResource"); err != nil {
		return nil, err
	}
	a, parent, err := g.resource(params.RestApiId, params.ParentId)
	if err != nil {
		return nil, err
	}
	part := deref(params.PathPart)
	for _, r := range a.resources {
		if r.parentID == parent.id && r.pathPart == part {
			return nil, &types.ConflictException{Message: strPtr("Another resource with the same parent already has this name: " + part)}
		}
	}

	id := g.newID()
	path := strings.TrimSuffix(parent.path, "/") + "/" + part
	a.resources[id] = &resource{id: id, parentID: parent.id, pathPart: part, path: path, methods: make(map[string]*method)}
	return &apigateway.CreateResourceOutput{Id: &id, ParentId: &parent.id, PathPart: &part, Path: &path}, nil
}

func (g *APIGateway) GetMethod(ctx context.Context, params *apigateway.GetMethodInput, optFns ...func(*apigateway.Options)) (*apigateway.GetMethodOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("GetMethod"); err != nil {
		return nil, err
	}
	m, err := g.method(params.RestApiId, params.ResourceId, params.HttpMethod)
	if err != nil {
		return nil, err
	}
	return &apigateway.GetMethodOutput{
		HttpMethod:        params.HttpMethod,
		AuthorizationType: strPtr(m.authorization),
		RequestParameters: maps.Clone(m.requestParameters),
		MethodIntegration: m.integration,
	}, nil
}

func (g *APIGateway) PutMethod(ctx context.Context, params *apigateway.PutMethodInput, optFns ...func(*apigateway.Options)) (*apigateway.PutMethodOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("PutMethod"); err != nil {
		return nil, err
	}
	_, r, err := g.resource(params.RestApiId, params.ResourceId)
	if err != nil {
		return nil, err
	}
	if _, ok := r.methods[deref(params.HttpMethod)]; ok {
		return nil, &types.ConflictException{Message: strPtr("Method already exists for this resource")}
	}
	r.methods[deref(params.HttpMethod)] = &method{
		authorization:        deref(params.AuthorizationType),
		requestParameters:    maps.Clone(params.RequestParameters),
		methodResponses:      make(map[string]map[string]bool),
		integrationResponses: make(map[string]map[string]string),
	}
	return &apigateway.PutMethodOutput{HttpMethod: params.HttpMethod, AuthorizationType: params.AuthorizationType}, nil
}

func (g *APIGateway) UpdateMethod(ctx context.Context, params *apigateway.UpdateMethodInput, optFns ...func(*apigateway.Options)) (*apigateway.UpdateMethodOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("UpdateMethod"); err != nil {
		return nil, err
	}
	m, err := g.method(params.RestApiId, params.ResourceId, params.HttpMethod)
	if err != nil {
		return nil, err
	}
	for _, op := range params.PatchOperations {
		path := deref(op.Path)
		switch {
		case path == "/authorizationType":
			m.authorization = deref(op.Value)
		case strings.HasPrefix(path, "/requestParameters/"):
			if m.requestParameters == nil {
				m.requestParameters = make(map[string]bool)
			}
			key := strings.TrimPrefix(path, "/requestParameters/")
			if op.Op == types.OpRemove {
				delete(m.requestParameters, key)
			} else {
				m.requestParameters[key] = deref(op.Value) == "true"
			}
		default:
			return nil, &types.BadRequestException{Message: strPtr("Invalid patch path " + path)}
		}
	}
	return &apigateway.UpdateMethodOutput{HttpMethod: params.HttpMethod}, nil
}

func (g *APIGateway) GetIntegration(ctx context.Context, params *apigateway.GetIntegrationInput, optFns ...func(*apigateway.Options)) (*apigateway.GetIntegrationOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("GetIntegration"); err != nil {
		return nil, err
	}
	m, err := g.method(params.RestApiId, params.ResourceId, params.HttpMethod)
	if err != nil {
		return nil, err
	}
	if m.integration == nil {
		return nil, apiNotFound("Invalid Integration identifier specified")
	}
	in := m.integration
	return &apigateway.GetIntegrationOutput{
		Type:             in.Type,
		Uri:              in.Uri,
		HttpMethod:       in.HttpMethod,
		RequestTemplates: maps.Clone(in.RequestTemplates),
	}, nil
}

func (g *APIGateway) PutIntegration(ctx context.Context, params *apigateway.PutIntegrationInput, optFns ...func(*apigateway.Options)) (*apigateway.PutIntegrationOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("PutIntegration"); err != nil {
		return nil, err
	}
	m, err := g.method(params.RestApiId, params.ResourceId, params.HttpMethod)
	if err != nil {
		return nil, err
	}
	m.integration = &types.Integration{
		Type:             params.Type,
		Uri:              params.Uri,
		HttpMethod:       params.IntegrationHttpMethod,
		RequestTemplates: maps.Clone(params.RequestTemplates),
	}
	return &apigateway.PutIntegrationOutput{Type: params.Type, Uri: params.Uri}, nil
}

func (g *APIGateway) GetMethodResponse(ctx context.Context, params *apigateway.GetMethodResponseInput, optFns ...func(*apigateway.Options)) (*apigateway.GetMethodResponseOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("GetMethodResponse"); err != nil {
		return nil, err
	}
	m, err := g.method(params.RestApiId, params.ResourceId, params.HttpMethod)
	if err != nil {
		return nil, err
	}
	resp, ok := m.methodResponses[deref(params.StatusCode)]
	if !ok {
		return nil, apiNotFound("Invalid Response status code specified")
	}
	return &apigateway.GetMethodResponseOutput{StatusCode: params.StatusCode, ResponseParameters: maps.Clone(resp)}, nil
}

func (g *APIGateway) PutMethodResponse(ctx context.Context, params *apigateway.PutMethodResponseInput, optFns ...func(*apigateway.Options)) (*apigateway.PutMethodResponseOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("PutMethodResponse"); err != nil {
		return nil, err
	}
	m, err := g.method(params.RestApiId, params.ResourceId, params.HttpMethod)
	if err != nil {
		return nil, err
	}
	m.methodResponses[deref(params.StatusCode)] = maps.Clone(params.ResponseParameters)
	return &apigateway.PutMethodResponseOutput{StatusCode: params.StatusCode}, nil
}

func (g *APIGateway) GetIntegrationResponse(ctx context.Context, params *apigateway.GetIntegrationResponseInput, optFns ...func(*apigateway.Options)) (*apigateway.GetIntegrationResponseOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("GetIntegrationResponse"); err != nil {
		return nil, err
	}
	m, err := g.method(params.RestApiId, params.ResourceId, params.HttpMethod)
	if err != nil {
		return nil, err
	}
	resp, ok := m.integrationResponses[deref(params.StatusCode)]
	if !ok {
		return nil, apiNotFound("Invalid Response status code specified")
	}
	return &apigateway.GetIntegrationResponseOutput{StatusCode: params.StatusCode, ResponseParameters: maps.Clone(resp)}, nil
}

func (g *APIGateway) PutIntegrationResponse(ctx context.Context, params *apigateway.PutIntegrationResponseInput, optFns ...func(*apigateway.Options)) (*apigateway.PutIntegrationResponseOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("PutIntegrationResponse"); err != nil {
		return nil, err
	}
	m, err := g.method(params.RestApiId, params.ResourceId, params.HttpMethod)
	if err != nil {
		return nil, err
	}
	if m.integration == nil {
		return nil, apiNotFound("Invalid Integration identifier specified")
	}
	m.integrationResponses[deref(params.StatusCode)] = maps.Clone(params.ResponseParameters)
	return &apigateway.PutIntegrationResponseOutput{StatusCode: params.StatusCode}, nil
}

func (g *APIGateway) GetStage(ctx context.Context, params *apigateway.GetStageInput, optFns ...func(*apigateway.Options)) (*apigateway.GetStageOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("GetStage"); err != nil {
		return nil, err
	}
	a, err := g.api(params.RestApiId)
	if err != nil {
		return nil, err
	}
	dep, ok := a.stages[deref(params.StageName)]
	if !ok {
		return nil, apiNotFound("Invalid Stage identifier specified")
	}
	return &apigateway.GetStageOutput{StageName: params.StageName, DeploymentId: strPtr(dep)}, nil
}

func (g *APIGateway) CreateDeployment(ctx context.Context, params *apigateway.CreateDeploymentInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateDeploymentOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.hit("CreateDeployment"); err != nil {
		return nil, err
	}
	a, err := g.api(params.RestApiId)
	if err != nil {
		return nil, err
	}
	id := g.newID()
	a.deployments++
	if stage := deref(params.StageName); stage != "" {
		a.stages[stage] = id
	}
	return &apigateway.CreateDeploymentOutput{Id: &id, Description: params.Description}, nil
}
