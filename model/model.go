// Package model holds the request and API metadata types shared by the
// decision chain, the subscription store and the event publisher.
package model

import (
	"strings"
)

// API is the deployed API metadata the enforcer decides against. APIs are
// looked up by Context and Version, the pair is unique per deployment.
type API struct {
	UUID              string
	Name              string
	Version           string
	Context           string
	Provider          string
	APIType           string
	LifecycleState    string
	Tier              string
	DisableSecurity   bool
	Resources         []*Resource
	OperationPolicies []OperationPolicy
	CORS              *CORSPolicy
	OrganizationID    string
}

// Resource is a single path template plus method set of an API, carrying
// the throttling tier and scopes attached at the operation level.
type Resource struct {
	Path    string
	Methods []string
	Tier    string
	Scopes  []string
}

// MatchesMethod reports whether the resource accepts the given HTTP method.
func (r *Resource) MatchesMethod(method string) bool {
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// CORSPolicy is the per-API CORS configuration applied by the CORS filter.
type CORSPolicy struct {
	Enabled          bool
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// Mediation policy actions understood by the policy filter. Anything else
// fails the request closed.
const (
	PolicySetHeader    = "SET_HEADER"
	PolicyRemoveHeader = "REMOVE_HEADER"
	PolicyAddQuery     = "ADD_QUERY"
	PolicyRewrite      = "REWRITE"
)

// OperationPolicy is one mediation action attached to an API operation.
type OperationPolicy struct {
	Action string
	Name   string
	Value  string
}

// AuthenticationContext carries everything the downstream filters and the
// event publisher need to know about the authenticated caller.
type AuthenticationContext struct {
	Authenticated    bool
	KeyType          string
	TokenID          string
	ConsumerKey      string
	Subscriber       string
	ApplicationID    string
	ApplicationUUID  string
	ApplicationName  string
	ApplicationTier  string
	APITier          string
	SubscriptionTier string
	StopOnQuotaReach bool
	SpikeArrestLimit int
	SpikeArrestUnit  string
	Username         string
	APIName          string
	APIVersion       string
	APIPublisher     string
	SubscriberTenant string
	RawToken         string
	CallerToken      string
}

const (
	KeyTypeProduction = "PRODUCTION"
	KeyTypeSandbox    = "SANDBOX"

	UnknownValue = "__unknown__"
	// UnlimitedTier is never throttled.
	UnlimitedTier = "Unlimited"
)
