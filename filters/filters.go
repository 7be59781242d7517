// Package filters defines the ordered decision chain a request passes
// through before the enforcer answers the authorization check.
package filters

import (
	log "github.com/sirupsen/logrus"

	"github.com/wso2/product-microgateway-sub011/model"
)

// Filter handles one concern of the request decision. Handle returns false
// to stop the chain; the stopping filter is responsible for recording the
// denial on the context.
type Filter interface {
	Name() string
	Handle(ctx *model.RequestContext) bool
}

// Chain runs filters in order and stops at the first one that fails the
// request.
type Chain struct {
	filters []Filter
}

// NewChain builds a chain running the given filters in order.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Process runs the chain. It returns true when every filter passed the
// request. A filter that returns false without recording a denial is a
// bug, the chain fails the request closed in that case.
func (c *Chain) Process(ctx *model.RequestContext) bool {
	for _, f := range c.filters {
		if f.Handle(ctx) {
			continue
		}
		if !ctx.Denied() {
			log.Errorf("filter %s stopped request %s without a denial", f.Name(), ctx.ID)
			ctx.Deny(500, 900900, "Internal Server Error", "Request processing failed")
		}
		log.Debugf("request %s denied by %s: %d %s", ctx.ID, f.Name(), ctx.ErrorCode, ctx.ErrorMessage)
		return false
	}
	return true
}
