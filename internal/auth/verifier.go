package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"
)

const (
	bearerPrefix = "Bearer "

	// Clock skew tolerated when validating issued-at.
	iatSkew = 5 * time.Second

	defaultFetchTimeout = 5 * time.Second
)

var errKeyNotFound = errors.New("auth: signing key not found")

// Verifier validates provider-issued bearer tokens against the issuer's
// published signing keys. The key set is cached in-process with automatic
// TTL refresh; a signature failure additionally forces one single-flighted
// refetch so key rotation does not lock out fresh tokens.
type Verifier struct {
	issuer   string
	audience string
	jwksURL  string

	cache        *jwk.Cache
	fetchTimeout time.Duration
	refresh      singleflight.Group
	now          func() time.Time

	regMu      sync.Mutex
	registered bool
}

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// WithFetchTimeout bounds each JWKS fetch.
func WithFetchTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.fetchTimeout = d
		}
	}
}

// NewVerifier constructs a Verifier over a refreshing JWKS cache. The
// endpoint is registered lazily on first use: registration performs the
// initial key fetch, and a provider outage must not block startup or
// permanently poison the verifier.
func NewVerifier(ctx context.Context, issuer, audience, jwksURL string, opts ...VerifierOption) (*Verifier, error) {
	issuer = strings.TrimSpace(issuer)
	jwksURL = strings.TrimSpace(jwksURL)
	if issuer == "" || jwksURL == "" {
		return nil, errors.New("auth: issuer and JWKS URL are required")
	}

	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(http.DefaultClient)))
	if err != nil {
		return nil, fmt.Errorf("create JWKS cache: %w", err)
	}

	v := &Verifier{
		issuer:       issuer,
		audience:     strings.TrimSpace(audience),
		jwksURL:      jwksURL,
		cache:        cache,
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ensureRegistered registers the JWKS endpoint on first use, bounded by
// the fetch timeout. A failed registration is not cached: the next request
// retries, so a transient provider outage heals itself.
func (v *Verifier) ensureRegistered(ctx context.Context) error {
	v.regMu.Lock()
	defer v.regMu.Unlock()
	if v.registered {
		return nil
	}
	regCtx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()
	if err := v.cache.Register(regCtx, v.jwksURL); err != nil {
		return fmt.Errorf("%w: register JWKS endpoint: %v", ErrKeyUnavailable, err)
	}
	v.registered = true
	return nil
}

// Verify turns a raw Authorization header into verified claims or one of
// the terminal rejection errors. It never touches the identity store.
func (v *Verifier) Verify(ctx context.Context, rawHeader string) (VerifiedClaims, error) {
	token, err := extractBearer(rawHeader)
	if err != nil {
		return VerifiedClaims{}, err
	}

	claims, err := v.parse(ctx, token)
	if err != nil && v.staleKeySuspected(err) {
		// The token may be signed by a key published after our last fetch.
		// Refetch once; concurrent misses share a single flight.
		if _, rerr, _ := v.refresh.Do(v.jwksURL, func() (any, error) {
			refreshCtx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
			defer cancel()
			return v.cache.Refresh(refreshCtx, v.jwksURL)
		}); rerr == nil {
			claims, err = v.parse(ctx, token)
		}
	}
	if err != nil {
		return VerifiedClaims{}, classifyParseError(err)
	}
	if err := v.validateClaims(claims); err != nil {
		return VerifiedClaims{}, err
	}
	return VerifiedClaims{
		Subject:     strings.TrimSpace(claims.Subject),
		Email:       strings.TrimSpace(claims.Email),
		DisplayName: strings.TrimSpace(claims.Name),
	}, nil
}

func (v *Verifier) parse(ctx context.Context, token string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.signingKey(ctx, t)
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) signingKey(ctx context.Context, t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("%w: unexpected signing method %v", ErrSignatureInvalid, t.Header["alg"])
	}
	kid, ok := t.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("%w: token header missing kid", ErrSignatureInvalid)
	}
	if err := v.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()
	keySet, err := v.cache.Lookup(lookupCtx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup JWKS: %v", ErrKeyUnavailable, err)
	}
	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("%w: kid %s", errKeyNotFound, kid)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("export signing key: %w", err)
	}
	return raw, nil
}

// staleKeySuspected reports whether a parse failure could be cured by a
// key-set refresh: either the signature did not verify against any cached
// key, or the kid is absent from the cached set.
func (v *Verifier) staleKeySuspected(err error) bool {
	return errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, errKeyNotFound)
}

func (v *Verifier) validateClaims(claims *tokenClaims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return ErrMalformedToken
	}
	// Issuer identifiers are case-sensitive URLs; compare exactly.
	if strings.TrimSpace(claims.Issuer) != v.issuer {
		return ErrWrongIssuer
	}
	if v.audience != "" && !audienceContains(claims.Audience, v.audience) {
		return ErrWrongIssuer
	}
	if claims.ExpiresAt == nil {
		return ErrMalformedToken
	}
	now := v.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return ErrExpired
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return ErrNotYetValid
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(now.Add(iatSkew)) {
		return ErrNotYetValid
	}
	return nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrKeyUnavailable):
		// Transient: the key source could not be reached. A new token
		// cannot help, so this must not surface as a credential failure.
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, errKeyNotFound),
		errors.Is(err, ErrSignatureInvalid):
		return ErrSignatureInvalid
	default:
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
}

func extractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingCredential
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingCredential
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
