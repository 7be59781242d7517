package subscription

import (
	"net/http"

	"github.com/wso2/product-microgateway-sub011/model"
)

// Validation status codes reported to the caller when a key fails
// subscription validation.
const (
	StatusInvalidCredentials   = 900901
	StatusForbidden            = 900908
	StatusSubscriptionBlocked  = 900907
	StatusSubscriptionInactive = 900909
	StatusAPIBlocked           = 700700
)

// ValidationInfo is the outcome of validating a consumer key against an
// API. When Authorized is false, Status and the error fields describe the
// denial.
type ValidationInfo struct {
	Authorized bool

	Application        *Application
	Subscription       *Subscription
	SubscriptionPolicy *Policy
	ApplicationPolicy  *Policy

	HTTPStatus  int
	Status      int
	Message     string
	Description string
}

func denied(httpStatus, status int, message, description string) *ValidationInfo {
	return &ValidationInfo{
		HTTPStatus:  httpStatus,
		Status:      status,
		Message:     message,
		Description: description,
	}
}

// Validate walks the consumer key through key mapping, application and
// subscription and resolves the throttling policies on the way. The walk
// mirrors the control-plane data model: a missing link at any step denies
// the request.
func (s *Store) Validate(consumerKey, keyType string, api *model.API) *ValidationInfo {
	if api.LifecycleState == StateBlocked {
		return denied(http.StatusServiceUnavailable, StatusAPIBlocked,
			"API blocked",
			"This API has been blocked temporarily. Please try again later or contact the system administrators.")
	}

	km, ok := s.KeyMapping(consumerKey)
	if !ok {
		return denied(http.StatusUnauthorized, StatusInvalidCredentials,
			"Invalid Credentials",
			"Make sure you have provided the correct security credentials")
	}

	app, ok := s.Application(km.ApplicationUUID)
	if !ok {
		return denied(http.StatusForbidden, StatusForbidden,
			"User is NOT authorized to access the Resource",
			"API Subscription validation failed")
	}

	sub, ok := s.Subscription(app.UUID, api.UUID)
	if !ok {
		return denied(http.StatusForbidden, StatusForbidden,
			"User is NOT authorized to access the Resource",
			"API Subscription validation failed")
	}

	switch sub.State {
	case StateBlocked:
		return denied(http.StatusForbidden, StatusSubscriptionBlocked,
			"API blocked for the subscription",
			"Please contact the API publisher")
	case StateOnHold, StateRejected:
		return denied(http.StatusForbidden, StatusSubscriptionInactive,
			"The subscription to the API is inactive",
			"Please contact the API publisher")
	case StateProdOnlyBlocked:
		if keyType == model.KeyTypeProduction {
			return denied(http.StatusForbidden, StatusSubscriptionBlocked,
				"API blocked for the subscription",
				"Please contact the API publisher")
		}
	}

	info := &ValidationInfo{
		Authorized:   true,
		Application:  app,
		Subscription: sub,
	}
	if p, ok := s.SubscriptionPolicy(sub.PolicyID); ok {
		info.SubscriptionPolicy = p
	}
	if p, ok := s.ApplicationPolicy(app.Policy); ok {
		info.ApplicationPolicy = p
	}
	return info
}
