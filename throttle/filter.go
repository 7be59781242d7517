package throttle

import (
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/wso2/product-microgateway-sub011/metrics"
	"github.com/wso2/product-microgateway-sub011/model"
)

// Throttling error codes surfaced in denial bodies.
const (
	CodeAPILimitReached          = 900800
	CodeResourceLimitReached     = 900802
	CodeApplicationLimitReached  = 900803
	CodeSubscriptionLimitReached = 900804
	CodeBlocked                  = 900805
	CodeCustomPolicyLimitReached = 900806
)

const (
	throttleMessage     = "Message throttled out"
	throttleDescription = "You have exceeded your quota"
)

// Filter decides whether a request is over any of its throttle limits.
// The order is fixed: blocking conditions first, then API or resource
// level, subscription, application and finally custom policies. Requests
// that pass produce a usage event handed to publish, which must never
// block.
type Filter struct {
	data    *DataHolder
	publish func(*model.ThrottleEvent)
}

// NewFilter builds the throttle filter. publish receives the usage event
// of every counted request.
func NewFilter(data *DataHolder, publish func(*model.ThrottleEvent)) *Filter {
	return &Filter{data: data, publish: publish}
}

func (*Filter) Name() string { return "throttle" }

func (f *Filter) Handle(ctx *model.RequestContext) bool {
	ac := ctx.AuthContext
	if ac == nil || !ac.Authenticated {
		// nothing to count against, let the auth filter deal with it
		return true
	}
	api := ctx.API

	apiKey := fmt.Sprintf("%s:%s", api.Context, api.Version)
	resourceKey := resourceKey(ctx)
	subKey := fmt.Sprintf("%s:%s:%s", ac.ApplicationID, api.Context, api.Version)
	appKey := fmt.Sprintf("%s:%s", ac.ApplicationID, ac.Username)

	if f.data.isBlocked(api.Context, appKey, ac.Username, subKey, ctx.ClientIP) {
		log.Debugf("request %s hit a blocking condition", ctx.ID)
		metrics.ThrottleDenials.WithLabelValues("blocked").Inc()
		ctx.Deny(http.StatusForbidden, CodeBlocked, "Message blocked",
			"You have been blocked from accessing the resource")
		return false
	}

	// API level beats resource level when the API carries its own tier.
	if api.Tier != "" && api.Tier != model.UnlimitedTier {
		if throttled, resetAt := f.data.IsThrottled(apiKey); throttled {
			f.deny(ctx, "api", CodeAPILimitReached, resetAt)
			return false
		}
	} else if tier := resourceTier(ctx); tier != model.UnlimitedTier {
		if throttled, resetAt := f.data.IsThrottled(resourceKey); throttled {
			f.deny(ctx, "resource", CodeResourceLimitReached, resetAt)
			return false
		}
	}

	if ac.SubscriptionTier != "" && ac.SubscriptionTier != model.UnlimitedTier {
		if throttled, resetAt := f.data.IsThrottled(subKey); throttled {
			if ac.StopOnQuotaReach {
				f.deny(ctx, "subscription", CodeSubscriptionLimitReached, resetAt)
				return false
			}
			// billing plan allows overuse, count it and move on
			log.Debugf("subscription limit exceeded for %s, continuing on stopOnQuotaReach=false", subKey)
		}
	}

	if ac.ApplicationTier != "" && ac.ApplicationTier != model.UnlimitedTier {
		if throttled, resetAt := f.data.IsThrottled(appKey); throttled {
			f.deny(ctx, "application", CodeApplicationLimitReached, resetAt)
			return false
		}
	}

	for _, template := range f.data.templates() {
		key := evaluateTemplate(template, ctx, apiKey, resourceKey, appKey)
		if throttled, resetAt := f.data.IsThrottled(key); throttled {
			f.deny(ctx, "custom", CodeCustomPolicyLimitReached, resetAt)
			return false
		}
	}

	if f.publish != nil {
		f.publish(buildEvent(ctx, apiKey, resourceKey, subKey, appKey))
	}
	return true
}

func (f *Filter) deny(ctx *model.RequestContext, level string, code int, resetAt int64) {
	metrics.ThrottleDenials.WithLabelValues(level).Inc()
	retryAfter := (resetAt - f.data.now().UnixMilli() + 999) / 1000
	if retryAfter < 1 {
		retryAfter = 1
	}
	ctx.AddHeaders["Retry-After"] = fmt.Sprintf("%d", retryAfter)
	ctx.Metadata["isThrottled"] = "true"
	ctx.Metadata["throttleCode"] = fmt.Sprintf("%d", code)
	ctx.Deny(http.StatusTooManyRequests, code, throttleMessage, throttleDescription)
}

func resourceKey(ctx *model.RequestContext) string {
	path := ctx.Path
	if ctx.Resource != nil {
		path = ctx.Resource.Path
	}
	return fmt.Sprintf("%s/%s%s:%s", ctx.API.Context, ctx.API.Version, path, ctx.Method)
}

func resourceTier(ctx *model.RequestContext) string {
	if ctx.Resource != nil && ctx.Resource.Tier != "" {
		return ctx.Resource.Tier
	}
	return model.UnlimitedTier
}

// evaluateTemplate resolves the $-placeholders of a custom policy key
// template against the request.
func evaluateTemplate(template string, ctx *model.RequestContext, apiKey, resourceKey, appKey string) string {
	ac := ctx.AuthContext
	r := strings.NewReplacer(
		"$resourceKey", resourceKey,
		"$userId", ac.Username,
		"$apiContext", ctx.API.Context,
		"$apiVersion", ctx.API.Version,
		"$appKey", appKey,
		"$apiKey", apiKey,
		"$appId", ac.ApplicationID,
		"$clientIp", ctx.ClientIP,
	)
	return r.Replace(template)
}
