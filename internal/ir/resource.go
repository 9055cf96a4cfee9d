package ir

// Kind identifies the type of a remote resource managed by the reconciler.
type Kind string

const (
	KindFunction           Kind = "function"
	KindEventSourceMapping Kind = "event-source-mapping"
	KindScheduleRule       Kind = "schedule-rule"
	KindScheduleTarget     Kind = "schedule-target"
	KindPermission         Kind = "permission"
	KindLogGroup           Kind = "log-group"
	KindRestAPI            Kind = "rest-api"
	KindAPIResource        Kind = "api-resource"
	KindAPIMethod          Kind = "api-method"
	KindAPIIntegration     Kind = "api-integration"
	KindAPIMethodResponse  Kind = "api-method-response"
	KindAPIDeployment      Kind = "api-deployment"
)

// Address returns the canonical address of a resource, e.g. "function.ride-request-producer".
func Address(kind Kind, name string) string {
	return string(kind) + "." + name
}
