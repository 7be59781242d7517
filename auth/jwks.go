package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

// IssuerRegistry maps trusted token issuers to the key function used to
// verify their signatures. Tokens from issuers not in the registry are
// rejected.
type IssuerRegistry struct {
	mu      sync.RWMutex
	issuers map[string]jwt.Keyfunc
}

// NewIssuerRegistry returns an empty registry.
func NewIssuerRegistry() *IssuerRegistry {
	return &IssuerRegistry{issuers: map[string]jwt.Keyfunc{}}
}

// Register trusts an issuer with an explicit key function.
func (r *IssuerRegistry) Register(issuer string, kf jwt.Keyfunc) {
	r.mu.Lock()
	r.issuers[issuer] = kf
	r.mu.Unlock()
}

// RegisterJWKS trusts an issuer whose keys are served from a JWKS
// endpoint. Keys refresh in the background until ctx is cancelled.
func (r *IssuerRegistry) RegisterJWKS(ctx context.Context, issuer, jwksURL string, refresh time.Duration) error {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:             ctx,
		RefreshInterval: refresh,
		RefreshErrorHandler: func(err error) {
			log.Errorf("jwks refresh failed for issuer %s: %v", issuer, err)
		},
	})
	if err != nil {
		return fmt.Errorf("fetch jwks for issuer %s: %w", issuer, err)
	}
	r.Register(issuer, jwks.Keyfunc)
	return nil
}

// Keyfunc returns the key function of a trusted issuer.
func (r *IssuerRegistry) Keyfunc(issuer string) (jwt.Keyfunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kf, ok := r.issuers[issuer]
	return kf, ok
}
