package filters

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/wso2/product-microgateway-sub011/model"
)

// MediationFilter applies the operation policies attached to the matched
// API as request mutations. An unrecognized action fails the request
// closed rather than forwarding it half mediated.
type MediationFilter struct{}

func (*MediationFilter) Name() string { return "mediation" }

func (f *MediationFilter) Handle(ctx *model.RequestContext) bool {
	for _, p := range ctx.API.OperationPolicies {
		switch p.Action {
		case model.PolicySetHeader:
			ctx.AddHeaders[p.Name] = p.Value
		case model.PolicyRemoveHeader:
			ctx.RemoveHeaders = append(ctx.RemoveHeaders, strings.ToLower(p.Name))
		case model.PolicyAddQuery:
			ctx.Query[p.Name] = p.Value
			ctx.QueryModified = true
		case model.PolicyRewrite:
			ctx.Path = p.Value
			ctx.QueryModified = true
		default:
			log.Errorf("unknown mediation action %q on API %s", p.Action, ctx.API.Name)
			ctx.Deny(500, 900900, "Internal Server Error",
				"Error while applying mediation policies")
			return false
		}
	}
	return true
}
