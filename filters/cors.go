package filters

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/wso2/product-microgateway-sub011/model"
)

const (
	headerOrigin        = "origin"
	headerRequestMethod = "access-control-request-method"

	headerAllowOrigin      = "Access-Control-Allow-Origin"
	headerAllowMethods     = "Access-Control-Allow-Methods"
	headerAllowHeaders     = "Access-Control-Allow-Headers"
	headerExposeHeaders    = "Access-Control-Expose-Headers"
	headerAllowCredentials = "Access-Control-Allow-Credentials"
	headerMaxAge           = "Access-Control-Max-Age"
)

// CORSFilter answers preflight requests for APIs that carry a CORS policy
// and decorates pass-through responses with the allow headers. Requests
// without an Origin header pass untouched.
type CORSFilter struct{}

func (*CORSFilter) Name() string { return "cors" }

func (f *CORSFilter) Handle(ctx *model.RequestContext) bool {
	policy := ctx.API.CORS
	if policy == nil || !policy.Enabled {
		return true
	}
	origin := ctx.Header(headerOrigin)
	if origin == "" {
		return true
	}
	allowed := allowedOrigin(policy, origin)
	if ctx.Method == http.MethodOptions && ctx.Header(headerRequestMethod) != "" {
		// Preflight is answered by the enforcer directly, it never
		// reaches the upstream.
		if allowed != "" {
			f.decorate(ctx, policy, allowed)
			ctx.AddHeaders[headerAllowMethods] = strings.Join(policy.AllowMethods, ", ")
			ctx.AddHeaders[headerAllowHeaders] = strings.Join(policy.AllowHeaders, ", ")
			if policy.MaxAge > 0 {
				ctx.AddHeaders[headerMaxAge] = strconv.Itoa(policy.MaxAge)
			}
		}
		ctx.StatusCode = http.StatusOK
		return false
	}
	if allowed != "" {
		f.decorate(ctx, policy, allowed)
	}
	return true
}

func (*CORSFilter) decorate(ctx *model.RequestContext, policy *model.CORSPolicy, origin string) {
	ctx.AddHeaders[headerAllowOrigin] = origin
	if len(policy.ExposeHeaders) > 0 {
		ctx.AddHeaders[headerExposeHeaders] = strings.Join(policy.ExposeHeaders, ", ")
	}
	if policy.AllowCredentials {
		ctx.AddHeaders[headerAllowCredentials] = "true"
	}
}

func allowedOrigin(policy *model.CORSPolicy, origin string) string {
	for _, o := range policy.AllowOrigins {
		if o == "*" {
			return "*"
		}
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
