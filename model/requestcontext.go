package model

import (
	"strings"

	"github.com/google/uuid"
)

// RequestContext is the mutable per-request state threaded through the
// filter chain. Header keys are stored lowercased, matching what Envoy
// sends on the ext_authz check.
type RequestContext struct {
	ID       string
	API      *API
	Resource *Resource

	Method   string
	Path     string
	RawPath  string
	Query    map[string]string
	Headers  map[string]string
	ClientIP string
	Host     string

	AuthContext *AuthenticationContext

	// Response mutations collected while the chain runs. On a pass they
	// become the OkHttpResponse, on a denial only denial fields are used.
	AddHeaders    map[string]string
	RemoveHeaders []string
	Metadata      map[string]string
	QueryModified bool

	// Denial outcome. Set by the filter that stops the chain.
	StatusCode       int
	ErrorCode        int
	ErrorMessage     string
	ErrorDescription string

	Properties map[string]interface{}
}

// NewRequestContext returns a context with the maps initialized and a
// fresh request ID.
func NewRequestContext() *RequestContext {
	return &RequestContext{
		ID:         uuid.NewString(),
		Query:      map[string]string{},
		Headers:    map[string]string{},
		AddHeaders: map[string]string{},
		Metadata:   map[string]string{},
		Properties: map[string]interface{}{},
	}
}

// Header returns the named request header, lowercasing the lookup key.
func (c *RequestContext) Header(name string) string {
	return c.Headers[strings.ToLower(name)]
}

// Deny records a denial outcome on the context. The chain stops at the
// filter that called it.
func (c *RequestContext) Deny(status, code int, message, description string) {
	c.StatusCode = status
	c.ErrorCode = code
	c.ErrorMessage = message
	c.ErrorDescription = description
}

// Denied reports whether a filter recorded a denial.
func (c *RequestContext) Denied() bool {
	return c.StatusCode != 0
}

// PathWithQuery reassembles the request path including the surviving query
// parameters, used to rewrite :path when the chain changed the query.
func (c *RequestContext) PathWithQuery() string {
	if len(c.Query) == 0 {
		return c.Path
	}
	var b strings.Builder
	b.WriteString(c.Path)
	sep := "?"
	for k, v := range c.Query {
		b.WriteString(sep)
		b.WriteString(k)
		if v != "" {
			b.WriteString("=")
			b.WriteString(v)
		}
		sep = "&"
	}
	return b.String()
}
