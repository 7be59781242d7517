package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"github.com/wso2/product-microgateway-sub011/metrics"
	"github.com/wso2/product-microgateway-sub011/model"
	"github.com/wso2/product-microgateway-sub011/subscription"
)

// Authentication error codes surfaced in denial bodies.
const (
	CodeGeneralAuthError   = 900900
	CodeInvalidCredentials = 900901
	CodeMissingCredentials = 900902
	CodeTokenExpired       = 900903
	CodeInvalidScope       = 900910
)

const (
	descInvalidCredentials = "Make sure you have provided the correct security credentials"
	descMissingCredentials = "Make sure your API invocation call has a header: " +
		"\"Authorization: Bearer ACCESS_TOKEN\""
	descTokenExpired = "Renew the access token and try again"
)

// Options configures the authenticator.
type Options struct {
	Issuers    *IssuerRegistry
	Store      *subscription.Store
	Revocation *RevocationStore

	// CacheSize bounds each of the three token caches.
	CacheSize int
	// CacheTTL bounds cache entries independent of token expiry.
	CacheTTL time.Duration
	// ClockSkew is tolerated when checking token expiry.
	ClockSkew time.Duration
}

// tokenValidationInfo is the cached outcome of a full token validation.
type tokenValidationInfo struct {
	issuer      string
	consumerKey string
	keyType     string
	username    string
	scopes      []string
	expiresAt   time.Time
	claims      jwt.MapClaims
}

// cachedDenial is the cached outcome of a failed validation.
type cachedDenial struct {
	code        int
	message     string
	description string
}

// Authenticator validates bearer JWTs and builds the authentication
// context for the rest of the chain. Validation results are cached three
// ways: known-good tokens, known-bad tokens and the validated claims, so
// a hot token costs one map lookup instead of a signature check.
type Authenticator struct {
	issuers    *IssuerRegistry
	store      *subscription.Store
	revocation *RevocationStore
	skew       time.Duration
	now        func() time.Time

	validCache   *tokenCache
	invalidCache *tokenCache
	keyCache     *tokenCache
}

// NewAuthenticator builds an authenticator from the options. Zero cache
// size and ttl fall back to sane defaults.
func NewAuthenticator(o Options) *Authenticator {
	if o.CacheSize <= 0 {
		o.CacheSize = 10000
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 15 * time.Minute
	}
	rev := o.Revocation
	if rev == nil {
		rev = NewRevocationStore()
	}
	return &Authenticator{
		issuers:      o.Issuers,
		store:        o.Store,
		revocation:   rev,
		skew:         o.ClockSkew,
		now:          time.Now,
		validCache:   newTokenCache(o.CacheSize, o.CacheTTL),
		invalidCache: newTokenCache(o.CacheSize, o.CacheTTL),
		keyCache:     newTokenCache(o.CacheSize, o.CacheTTL),
	}
}

func (a *Authenticator) Name() string { return "auth" }

// Handle authenticates the request. On success ctx.AuthContext is set, on
// failure the denial is recorded and the chain stops.
func (a *Authenticator) Handle(ctx *model.RequestContext) bool {
	if ctx.API.DisableSecurity {
		ctx.AuthContext = &model.AuthenticationContext{
			Authenticated: true,
			KeyType:       model.KeyTypeProduction,
			Username:      model.UnknownValue,
		}
		return true
	}

	token, ok := bearerToken(ctx.Header("authorization"))
	if !ok {
		ctx.Deny(http.StatusUnauthorized, CodeMissingCredentials,
			"Missing Credentials", descMissingCredentials)
		return false
	}
	if strings.Count(token, ".") != 2 {
		ctx.Deny(http.StatusUnauthorized, CodeInvalidCredentials,
			"Invalid Credentials", descInvalidCredentials)
		return false
	}

	tokenID, err := tokenIdentifier(token)
	if err != nil {
		ctx.Deny(http.StatusUnauthorized, CodeInvalidCredentials,
			"Invalid Credentials", descInvalidCredentials)
		return false
	}

	if a.revocation.IsRevoked(tokenID) {
		log.Debugf("revoked token on request %s", ctx.ID)
		ctx.Deny(http.StatusUnauthorized, CodeInvalidCredentials,
			"Invalid Credentials", descInvalidCredentials)
		return false
	}

	// the caches are keyed by the signature segment of the presented
	// token, claims are forgeable and never make a cache key
	sig := signatureSegment(token)

	if v, ok := a.invalidCache.lookup(sig); ok {
		metrics.TokenCacheHits.WithLabelValues("invalid").Inc()
		d := v.(*cachedDenial)
		ctx.Deny(http.StatusUnauthorized, d.code, d.message, d.description)
		return false
	}

	info, err := a.validate(sig, token)
	if err != nil {
		var d *cachedDenial
		if !errors.As(err, &d) {
			d = &cachedDenial{
				code:        CodeGeneralAuthError,
				message:     "Internal Server Error",
				description: "Error while validating the access token",
			}
			ctx.Deny(http.StatusInternalServerError, d.code, d.message, d.description)
			return false
		}
		ctx.Deny(http.StatusUnauthorized, d.code, d.message, d.description)
		return false
	}

	valInfo := a.store.Validate(info.consumerKey, info.keyType, ctx.API)
	if !valInfo.Authorized {
		ctx.Deny(valInfo.HTTPStatus, valInfo.Status, valInfo.Message, valInfo.Description)
		return false
	}

	if !scopesAllowed(ctx.Resource, info.scopes) {
		ctx.Deny(http.StatusForbidden, CodeInvalidScope, "Invalid Scope",
			"The access token does not allow you to access the requested resource")
		return false
	}

	ctx.AuthContext = a.authenticationContext(ctx, token, tokenID, info, valInfo)
	ctx.Metadata["applicationName"] = ctx.AuthContext.ApplicationName
	ctx.Metadata["username"] = ctx.AuthContext.Username
	return true
}

// validate returns the validation info for a token, from the key cache
// when the token was seen before. Failures are returned as *cachedDenial
// and remembered in the invalid token cache.
func (a *Authenticator) validate(sig, token string) (*tokenValidationInfo, error) {
	if _, ok := a.validCache.lookup(sig); ok {
		if v, ok := a.keyCache.lookup(sig); ok {
			info := v.(*tokenValidationInfo)
			if a.now().After(info.expiresAt.Add(a.skew)) {
				// the cached token crossed its expiry, demote it
				a.validCache.remove(sig)
				a.keyCache.remove(sig)
				d := &cachedDenial{CodeTokenExpired, "Access Token Expired", descTokenExpired}
				a.invalidCache.put(sig, d, time.Time{})
				return nil, d
			}
			metrics.TokenCacheHits.WithLabelValues("valid").Inc()
			return info, nil
		}
	}

	info, err := a.verify(token)
	if err != nil {
		var d *cachedDenial
		if errors.As(err, &d) {
			a.invalidCache.put(sig, d, time.Time{})
		}
		return nil, err
	}

	// cache entries are bounded by the cache ttl alone, expiry against
	// the token is re-checked on every hit
	a.keyCache.put(sig, info, time.Time{})
	a.validCache.put(sig, struct{}{}, time.Time{})
	return info, nil
}

// trustedSigningMethods are the signature algorithms accepted on access
// tokens. Symmetric methods are rejected.
var trustedSigningMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// verify checks the token signature and standard claims against the
// trusted issuers.
func (a *Authenticator) verify(token string) (*tokenValidationInfo, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(trustedSigningMethods))
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, &cachedDenial{CodeInvalidCredentials, "Invalid Credentials", descInvalidCredentials}
	}
	issuer, _ := claims["iss"].(string)
	kf, ok := a.issuers.Keyfunc(issuer)
	if !ok {
		log.Debugf("token from untrusted issuer %q", issuer)
		return nil, &cachedDenial{CodeInvalidCredentials, "Invalid Credentials", descInvalidCredentials}
	}

	claims = jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, claims, kf); err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, &cachedDenial{CodeTokenExpired, "Access Token Expired", descTokenExpired}
		}
		log.Debugf("token verification failed: %v", err)
		return nil, &cachedDenial{CodeInvalidCredentials, "Invalid Credentials", descInvalidCredentials}
	}

	info := &tokenValidationInfo{
		issuer: issuer,
		claims: claims,
	}
	info.consumerKey, _ = claims["azp"].(string)
	if info.consumerKey == "" {
		info.consumerKey, _ = claims["client_id"].(string)
	}
	info.keyType, _ = claims["keytype"].(string)
	if info.keyType == "" {
		info.keyType = model.KeyTypeProduction
	}
	info.username, _ = claims["sub"].(string)
	info.scopes = scopeClaim(claims)
	if exp, ok := claims["exp"].(float64); ok {
		info.expiresAt = time.Unix(int64(exp), 0)
	}
	return info, nil
}

func (a *Authenticator) authenticationContext(ctx *model.RequestContext, token, tokenID string,
	info *tokenValidationInfo, valInfo *subscription.ValidationInfo) *model.AuthenticationContext {

	ac := &model.AuthenticationContext{
		Authenticated: true,
		KeyType:       info.keyType,
		TokenID:       tokenID,
		ConsumerKey:   info.consumerKey,
		Username:      info.username,
		APIName:       ctx.API.Name,
		APIVersion:    ctx.API.Version,
		APIPublisher:  ctx.API.Provider,
		APITier:       ctx.API.Tier,
		RawToken:      token,
	}
	if ac.Username == "" {
		ac.Username = model.UnknownValue
	}
	app := valInfo.Application
	ac.ApplicationID = app.ID
	ac.ApplicationUUID = app.UUID
	ac.ApplicationName = app.Name
	ac.ApplicationTier = app.Policy
	ac.Subscriber = app.Owner
	ac.SubscriberTenant = app.Tenant
	if p := valInfo.SubscriptionPolicy; p != nil {
		ac.SubscriptionTier = p.Name
		ac.StopOnQuotaReach = p.StopOnQuotaReach
	}
	if p := valInfo.ApplicationPolicy; p != nil {
		ac.ApplicationTier = p.Name
		ac.SpikeArrestLimit = p.SpikeArrestLimit
		ac.SpikeArrestUnit = p.SpikeArrestUnit
	}
	return ac
}

// Error makes cachedDenial usable with errors.As.
func (d *cachedDenial) Error() string {
	return fmt.Sprintf("%d %s", d.code, d.message)
}

func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// tokenIdentifier returns the jti claim when the token carries one, the
// signature segment otherwise. It names the token for revocation and in
// the authentication context, cache keys come from signatureSegment.
func tokenIdentifier(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	if jti, ok := claims["jti"].(string); ok && jti != "" {
		return jti, nil
	}
	return signatureSegment(token), nil
}

func signatureSegment(token string) string {
	return token[strings.LastIndexByte(token, '.')+1:]
}

func scopeClaim(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		scopes := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	}
	return nil
}

// scopesAllowed reports whether the token scopes satisfy the resource. A
// resource without scopes is open to any authenticated caller, otherwise
// one matching scope suffices.
func scopesAllowed(resource *model.Resource, scopes []string) bool {
	if resource == nil || len(resource.Scopes) == 0 {
		return true
	}
	for _, required := range resource.Scopes {
		for _, s := range scopes {
			if s == required {
				return true
			}
		}
	}
	return false
}
