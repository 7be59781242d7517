package model

// ThrottleEvent is the immutable usage record published to the traffic
// manager after a request passes the throttle filter. Field order matches
// the wire frame layout.
type ThrottleEvent struct {
	MessageID        string
	AppKey           string
	AppTier          string
	APIKey           string
	APITier          string
	SubscriptionKey  string
	SubscriptionTier string
	ResourceKey      string
	ResourceTier     string
	UserID           string
	APIContext       string
	APIVersion       string
	AppTenant        string
	APITenant        string
	AppID            string
	APIName          string
	PropertiesJSON   string
}

// Fields returns the event values in publish order.
func (e *ThrottleEvent) Fields() []string {
	return []string{
		e.MessageID,
		e.AppKey,
		e.AppTier,
		e.APIKey,
		e.APITier,
		e.SubscriptionKey,
		e.SubscriptionTier,
		e.ResourceKey,
		e.ResourceTier,
		e.UserID,
		e.APIContext,
		e.APIVersion,
		e.AppTenant,
		e.APITenant,
		e.AppID,
		e.APIName,
		e.PropertiesJSON,
	}
}
