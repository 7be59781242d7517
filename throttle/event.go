package throttle

import (
	"encoding/json"
	"math/big"
	"net/netip"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/wso2/product-microgateway-sub011/model"
)

const defaultTenant = "carbon.super"

// buildEvent assembles the usage event for a request that passed the
// throttle checks. The event is immutable once built.
func buildEvent(ctx *model.RequestContext, apiKey, resourceKey, subKey, appKey string) *model.ThrottleEvent {
	ac := ctx.AuthContext
	tenant := ac.SubscriberTenant
	if tenant == "" {
		tenant = defaultTenant
	}
	return &model.ThrottleEvent{
		MessageID:        uuid.NewString(),
		AppKey:           appKey,
		AppTier:          ac.ApplicationTier,
		APIKey:           apiKey,
		APITier:          ctx.API.Tier,
		SubscriptionKey:  subKey,
		SubscriptionTier: ac.SubscriptionTier,
		ResourceKey:      resourceKey,
		ResourceTier:     resourceTier(ctx),
		UserID:           ac.Username,
		APIContext:       ctx.API.Context,
		APIVersion:       ctx.API.Version,
		AppTenant:        tenant,
		APITenant:        tenant,
		AppID:            ac.ApplicationID,
		APIName:          ctx.API.Name,
		PropertiesJSON:   eventProperties(ctx),
	}
}

// eventProperties serializes the extra event attributes. The client IP
// travels as a decimal integer, the representation the receiver indexes.
func eventProperties(ctx *model.RequestContext) string {
	props := map[string]interface{}{}
	if ip := ipToDecimal(ctx.ClientIP); ip != nil {
		props["ip"] = ip
	}
	for k, v := range ctx.Properties {
		props[k] = v
	}
	b, err := json.Marshal(props)
	if err != nil {
		log.Errorf("marshal event properties: %v", err)
		return "{}"
	}
	return string(b)
}

// ipToDecimal converts an address to its integer form, a uint32 for IPv4
// and an arbitrary precision integer for IPv6.
func ipToDecimal(s string) interface{} {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil
	}
	if addr.Is4() {
		b := addr.As4()
		return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	b := addr.As16()
	n := new(big.Int).SetBytes(b[:])
	return json.RawMessage(n.String())
}
