// Package subscription keeps the control-plane delivered entities the
// enforcer validates keys against: applications, key mappings,
// subscriptions and throttling policies. Everything lives in memory and
// is replaced or patched by control-plane updates.
package subscription

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Application is a subscriber application registered in the control plane.
type Application struct {
	ID     string
	UUID   string
	Name   string
	Owner  string
	Tenant string
	Policy string
}

// KeyMapping ties an OAuth consumer key to an application and key type.
type KeyMapping struct {
	ConsumerKey     string
	KeyType         string
	ApplicationUUID string
}

// Subscription connects an application to an API under a policy.
type Subscription struct {
	ID              string
	ApplicationUUID string
	APIUUID         string
	PolicyID        string
	State           string
}

// Subscription states as the control plane delivers them.
const (
	StateUnblocked       = "UNBLOCKED"
	StateBlocked         = "BLOCKED"
	StateOnHold          = "ON_HOLD"
	StateRejected        = "REJECTED"
	StateProdOnlyBlocked = "PROD_ONLY_BLOCKED"
)

// Policy is a throttling policy at the subscription or application level.
type Policy struct {
	ID               string
	Name             string
	QuotaType        string
	Tenant           string
	StopOnQuotaReach bool
	SpikeArrestLimit int
	SpikeArrestUnit  string
}

// Store is the in-memory entity store. Bulk setters replace a whole map
// atomically, the AddOrUpdate and Delete methods patch single entries.
type Store struct {
	mu            sync.RWMutex
	applications  map[string]*Application // by UUID
	keyMappings   map[string]*KeyMapping  // by consumer key
	subscriptions map[string]*Subscription
	subPolicies   map[string]*Policy // by name
	appPolicies   map[string]*Policy // by name
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		applications:  map[string]*Application{},
		keyMappings:   map[string]*KeyMapping{},
		subscriptions: map[string]*Subscription{},
		subPolicies:   map[string]*Policy{},
		appPolicies:   map[string]*Policy{},
	}
}

func subscriptionKey(appUUID, apiUUID string) string {
	return fmt.Sprintf("%s:%s", appUUID, apiUUID)
}

// SetApplications replaces all applications.
func (s *Store) SetApplications(apps []*Application) {
	m := make(map[string]*Application, len(apps))
	for _, a := range apps {
		m[a.UUID] = a
	}
	s.mu.Lock()
	s.applications = m
	s.mu.Unlock()
	log.Debugf("loaded %d applications", len(m))
}

// AddOrUpdateApplication patches one application.
func (s *Store) AddOrUpdateApplication(a *Application) {
	s.mu.Lock()
	s.applications[a.UUID] = a
	s.mu.Unlock()
}

// DeleteApplication removes one application.
func (s *Store) DeleteApplication(uuid string) {
	s.mu.Lock()
	delete(s.applications, uuid)
	s.mu.Unlock()
}

// SetKeyMappings replaces all key mappings.
func (s *Store) SetKeyMappings(mappings []*KeyMapping) {
	m := make(map[string]*KeyMapping, len(mappings))
	for _, km := range mappings {
		m[km.ConsumerKey] = km
	}
	s.mu.Lock()
	s.keyMappings = m
	s.mu.Unlock()
	log.Debugf("loaded %d key mappings", len(m))
}

// AddOrUpdateKeyMapping patches one key mapping.
func (s *Store) AddOrUpdateKeyMapping(km *KeyMapping) {
	s.mu.Lock()
	s.keyMappings[km.ConsumerKey] = km
	s.mu.Unlock()
}

// DeleteKeyMapping removes the mapping for a consumer key.
func (s *Store) DeleteKeyMapping(consumerKey string) {
	s.mu.Lock()
	delete(s.keyMappings, consumerKey)
	s.mu.Unlock()
}

// SetSubscriptions replaces all subscriptions.
func (s *Store) SetSubscriptions(subs []*Subscription) {
	m := make(map[string]*Subscription, len(subs))
	for _, sub := range subs {
		m[subscriptionKey(sub.ApplicationUUID, sub.APIUUID)] = sub
	}
	s.mu.Lock()
	s.subscriptions = m
	s.mu.Unlock()
	log.Debugf("loaded %d subscriptions", len(m))
}

// AddOrUpdateSubscription patches one subscription.
func (s *Store) AddOrUpdateSubscription(sub *Subscription) {
	s.mu.Lock()
	s.subscriptions[subscriptionKey(sub.ApplicationUUID, sub.APIUUID)] = sub
	s.mu.Unlock()
}

// DeleteSubscription removes the subscription of an application to an API.
func (s *Store) DeleteSubscription(appUUID, apiUUID string) {
	s.mu.Lock()
	delete(s.subscriptions, subscriptionKey(appUUID, apiUUID))
	s.mu.Unlock()
}

// SetSubscriptionPolicies replaces all subscription level policies.
func (s *Store) SetSubscriptionPolicies(policies []*Policy) {
	s.mu.Lock()
	s.subPolicies = policiesByName(policies)
	s.mu.Unlock()
}

// SetApplicationPolicies replaces all application level policies.
func (s *Store) SetApplicationPolicies(policies []*Policy) {
	s.mu.Lock()
	s.appPolicies = policiesByName(policies)
	s.mu.Unlock()
}

func policiesByName(policies []*Policy) map[string]*Policy {
	m := make(map[string]*Policy, len(policies))
	for _, p := range policies {
		m[p.Name] = p
	}
	return m
}

// Application returns the application with the given UUID.
func (s *Store) Application(uuid string) (*Application, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.applications[uuid]
	return a, ok
}

// KeyMapping returns the mapping for a consumer key.
func (s *Store) KeyMapping(consumerKey string) (*KeyMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	km, ok := s.keyMappings[consumerKey]
	return km, ok
}

// Subscription returns the subscription of an application to an API.
func (s *Store) Subscription(appUUID, apiUUID string) (*Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[subscriptionKey(appUUID, apiUUID)]
	return sub, ok
}

// SubscriptionPolicy returns the subscription policy with the given name.
func (s *Store) SubscriptionPolicy(name string) (*Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.subPolicies[name]
	return p, ok
}

// ApplicationPolicy returns the application policy with the given name.
func (s *Store) ApplicationPolicy(name string) (*Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.appPolicies[name]
	return p, ok
}
