package subscription

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/product-microgateway-sub011/model"
)

func storeWith(state string) *Store {
	s := NewStore()
	s.SetApplications([]*Application{{
		ID:     "1",
		UUID:   "app-uuid",
		Name:   "App",
		Owner:  "bob",
		Policy: "10PerMin",
	}})
	s.SetKeyMappings([]*KeyMapping{{
		ConsumerKey:     "key-1",
		KeyType:         model.KeyTypeProduction,
		ApplicationUUID: "app-uuid",
	}})
	s.SetSubscriptions([]*Subscription{{
		ID:              "sub-1",
		ApplicationUUID: "app-uuid",
		APIUUID:         "api-uuid",
		PolicyID:        "Silver",
		State:           state,
	}})
	s.SetSubscriptionPolicies([]*Policy{{ID: "Silver", Name: "Silver", StopOnQuotaReach: true}})
	s.SetApplicationPolicies([]*Policy{{ID: "10PerMin", Name: "10PerMin"}})
	return s
}

func apiUnderTest() *model.API {
	return &model.API{UUID: "api-uuid", Name: "Orders", Version: "v2", Context: "/orders"}
}

func TestValidateAuthorized(t *testing.T) {
	s := storeWith(StateUnblocked)

	info := s.Validate("key-1", model.KeyTypeProduction, apiUnderTest())
	require.True(t, info.Authorized)
	assert.Equal(t, "App", info.Application.Name)
	assert.Equal(t, "Silver", info.SubscriptionPolicy.Name)
	assert.Equal(t, "10PerMin", info.ApplicationPolicy.Name)
}

func TestValidateUnknownConsumerKey(t *testing.T) {
	s := storeWith(StateUnblocked)

	info := s.Validate("unknown", model.KeyTypeProduction, apiUnderTest())
	assert.False(t, info.Authorized)
	assert.Equal(t, http.StatusUnauthorized, info.HTTPStatus)
	assert.Equal(t, StatusInvalidCredentials, info.Status)
}

func TestValidateNoSubscription(t *testing.T) {
	s := storeWith(StateUnblocked)
	s.DeleteSubscription("app-uuid", "api-uuid")

	info := s.Validate("key-1", model.KeyTypeProduction, apiUnderTest())
	assert.False(t, info.Authorized)
	assert.Equal(t, http.StatusForbidden, info.HTTPStatus)
	assert.Equal(t, StatusForbidden, info.Status)
}

func TestValidateSubscriptionStates(t *testing.T) {
	for _, tc := range []struct {
		state   string
		keyType string
		status  int
	}{
		{StateBlocked, model.KeyTypeProduction, StatusSubscriptionBlocked},
		{StateOnHold, model.KeyTypeProduction, StatusSubscriptionInactive},
		{StateRejected, model.KeyTypeProduction, StatusSubscriptionInactive},
		{StateProdOnlyBlocked, model.KeyTypeProduction, StatusSubscriptionBlocked},
	} {
		t.Run(tc.state, func(t *testing.T) {
			s := storeWith(tc.state)
			info := s.Validate("key-1", tc.keyType, apiUnderTest())
			assert.False(t, info.Authorized)
			assert.Equal(t, http.StatusForbidden, info.HTTPStatus)
			assert.Equal(t, tc.status, info.Status)
		})
	}
}

func TestValidateProdOnlyBlockedAllowsSandbox(t *testing.T) {
	s := storeWith(StateProdOnlyBlocked)

	info := s.Validate("key-1", model.KeyTypeSandbox, apiUnderTest())
	assert.True(t, info.Authorized)
}

func TestValidateBlockedAPI(t *testing.T) {
	s := storeWith(StateUnblocked)
	api := apiUnderTest()
	api.LifecycleState = StateBlocked

	info := s.Validate("key-1", model.KeyTypeProduction, api)
	assert.False(t, info.Authorized)
	assert.Equal(t, http.StatusServiceUnavailable, info.HTTPStatus)
	assert.Equal(t, StatusAPIBlocked, info.Status)
}

func TestBulkSetReplacesEntries(t *testing.T) {
	s := storeWith(StateUnblocked)

	s.SetKeyMappings([]*KeyMapping{{
		ConsumerKey:     "key-2",
		ApplicationUUID: "app-uuid",
	}})

	_, ok := s.KeyMapping("key-1")
	assert.False(t, ok, "bulk set must replace the whole map")
	_, ok = s.KeyMapping("key-2")
	assert.True(t, ok)
}
