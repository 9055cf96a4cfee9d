package ir

// Stack is the full desired resource tree of one deployment.
type Stack struct {
	Functions        []*Function           `yaml:"functions" pkl:"functions"`
	Mappings         []*EventSourceMapping `yaml:"eventSourceMappings" pkl:"eventSourceMappings"`
	Schedules        []*Schedule           `yaml:"schedules" pkl:"schedules"`
	API              *RestAPI              `yaml:"api" pkl:"api"`
	LogRetentionDays int32                 `yaml:"logRetentionDays" pkl:"logRetentionDays"`
}

// Function is the desired descriptor of a Lambda function.
type Function struct {
	Key         string            `yaml:"key" pkl:"key"` // producer, sqs-consumer, ...
	Name        string            `yaml:"name" pkl:"name"`
	Description string            `yaml:"description" pkl:"description"`
	Runtime     string            `yaml:"runtime" pkl:"runtime"`
	Handler     string            `yaml:"handler" pkl:"handler"`
	Role        string            `yaml:"role" pkl:"role"` // role name or ARN
	Timeout     int32             `yaml:"timeout" pkl:"timeout"`
	MemorySize  int32             `yaml:"memorySize" pkl:"memorySize"`
	CodePath    string            `yaml:"codePath" pkl:"codePath"`
	Environment map[string]string `yaml:"-" pkl:"-"`
}

// EventSourceMapping binds a queue to a function.
type EventSourceMapping struct {
	Function  string `yaml:"function" pkl:"function"` // function key
	QueueURL  string `yaml:"queueUrl" pkl:"queueUrl"`
	BatchSize int32  `yaml:"batchSize" pkl:"batchSize"`
}

// Schedule is a fixed-rate EventBridge rule with a single function target.
type Schedule struct {
	Name       string `yaml:"name" pkl:"name"`
	Expression string `yaml:"expression" pkl:"expression"`
	Function   string `yaml:"function" pkl:"function"` // function key
	TargetID   string `yaml:"targetId" pkl:"targetId"`
}

// RestAPI is the desired REST API resource tree.
type RestAPI struct {
	Name        string   `yaml:"name" pkl:"name"`
	Description string   `yaml:"description" pkl:"description"`
	Stage       string   `yaml:"stage" pkl:"stage"`
	Routes      []*Route `yaml:"routes" pkl:"routes"`
}

// Route is one proxied method on a path resource.
type Route struct {
	Path        string   `yaml:"path" pkl:"path"`
	Method      string   `yaml:"method" pkl:"method"`
	Function    string   `yaml:"function" pkl:"function"` // function key
	QueryParams []string `yaml:"queryParams" pkl:"queryParams"`
	CORS        bool     `yaml:"cors" pkl:"cors"`
}

// Function returns the function with the given key, or nil.
func (s *Stack) Function(key string) *Function {
	for _, fn := range s.Functions {
		if fn.Key == key {
			return fn
		}
	}
	return nil
}

// Paths returns the distinct route paths in declaration order.
func (a *RestAPI) Paths() []string {
	var paths []string
	seen := make(map[string]bool)
	for _, r := range a.Routes {
		if !seen[r.Path] {
			seen[r.Path] = true
			paths = append(paths, r.Path)
		}
	}
	return paths
}

// RoutesFor returns the routes declared on path.
func (a *RestAPI) RoutesFor(path string) []*Route {
	var routes []*Route
	for _, r := range a.Routes {
		if r.Path == path {
			routes = append(routes, r)
		}
	}
	return routes
}
