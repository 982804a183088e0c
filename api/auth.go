package api

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	envAuth0TestMode    = "AUTH0_TEST_MODE"
	envTestJWTSecret    = "TEST_JWT_SECRET"
	envLocalAuthMode    = "LOCAL_AUTH_MODE"
	envLocalAuthSecret  = "LOCAL_AUTH_SHARED_SECRET"
	envJWKSCacheTTL     = "JWKS_CACHE_TTL"

	// clockSkew is how far token time claims may be off.
	clockSkew = time.Minute
)

var (
	errInvalidClaims  = errors.New("invalid claims")
	errTokenExpired   = errors.New("token expired")
	errTokenNotYet    = errors.New("token not valid yet")
	errTokenIssued    = errors.New("token used before issued")
	errWrongAudience  = errors.New("invalid audience")
	errWrongIssuer    = errors.New("invalid issuer")
	errMissingSubject = errors.New("missing sub")
	errNoJWKS         = errors.New("jwks not configured")
)

// Auth validates bearer tokens. With a shared secret it accepts HS256
// tokens, otherwise RS256 tokens whose keys come from the JWKS.
type Auth struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
	secret   []byte

	parser *jwt.Parser
	keys   sync.Map
	keyTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a validator for the Auth0 tenant behind jwks.
// LOCAL_AUTH_MODE=hs256 (or the older AUTH0_TEST_MODE=1) switches to shared
// secret tokens for local runs. Bad auth settings panic.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	secret, err := sharedSecretFromEnv()
	if err != nil {
		panic(err.Error())
	}
	ttl, err := jwksCacheTTLFromEnv()
	if err != nil {
		panic(err.Error())
	}
	return &Auth{
		jwks:     jwks,
		audience: audience,
		issuer:   issuer,
		secret:   secret,
		parser:   newParser(secret != nil),
		keyTTL:   ttl,
	}
}

// NewSharedSecretAuth returns an HS256 validator without consulting the environment.
func NewSharedSecretAuth(secret []byte, audience, issuer string) *Auth {
	return &Auth{
		audience: audience,
		issuer:   issuer,
		secret:   secret,
		parser:   newParser(true),
	}
}

// SharedSecret reports whether tokens are checked against a shared secret.
func (a *Auth) SharedSecret() bool {
	return a.secret != nil
}

func sharedSecretFromEnv() ([]byte, error) {
	if mode := strings.ToLower(os.Getenv(envLocalAuthMode)); mode != "" {
		if mode != "hs256" {
			return nil, fmt.Errorf("unsupported %s value %q", envLocalAuthMode, mode)
		}
		secret := os.Getenv(envLocalAuthSecret)
		if secret == "" {
			return nil, fmt.Errorf("%s must be set when %s=hs256", envLocalAuthSecret, envLocalAuthMode)
		}
		return []byte(secret), nil
	}
	if os.Getenv(envAuth0TestMode) == "1" {
		secret := os.Getenv(envTestJWTSecret)
		if secret == "" {
			return nil, fmt.Errorf("%s must be set when %s=1", envTestJWTSecret, envAuth0TestMode)
		}
		return []byte(secret), nil
	}
	return nil, nil
}

func jwksCacheTTLFromEnv() (time.Duration, error) {
	raw := os.Getenv(envJWKSCacheTTL)
	if raw == "" {
		return defaultJWKSCacheTTL, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		return 0, fmt.Errorf("invalid %s %q", envJWKSCacheTTL, raw)
	}
	return ttl, nil
}

func newParser(sharedSecret bool) *jwt.Parser {
	if sharedSecret {
		return jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	}
	return jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
}

// PrincipalFromAuthHeader resolves the caller from the Authorization header.
func (a *Auth) PrincipalFromAuthHeader(h string) (Principal, error) {
	if h == "" {
		return Principal{}, errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return Principal{}, err
	}
	return a.PrincipalFromBearer(token)
}

// PrincipalFromBearer validates a raw bearer token and returns its subject
// and, when present, its email claim.
func (a *Auth) PrincipalFromBearer(token string) (Principal, error) {
	if token == "" {
		return Principal{}, errBadAuthorization
	}
	parsed, err := a.parser.Parse(token, a.verificationKey)
	if err != nil {
		return Principal{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, errInvalidClaims
	}
	if err := a.checkClaims(claims); err != nil {
		return Principal{}, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, errMissingSubject
	}
	email, _ := claims["email"].(string)
	return Principal{ID: sub, Email: email}, nil
}

func (a *Auth) checkClaims(claims jwt.MapClaims) error {
	now := time.Now().Add(clockSkew).Unix()
	switch {
	case !claims.VerifyExpiresAt(now, true):
		return errTokenExpired
	case !claims.VerifyNotBefore(now, false):
		return errTokenNotYet
	case !claims.VerifyIssuedAt(now, false):
		return errTokenIssued
	case a.audience != "" && !claims.VerifyAudience(a.audience, false):
		return errWrongAudience
	case a.issuer != "" && !claims.VerifyIssuer(a.issuer, false):
		return errWrongIssuer
	}
	return nil
}

func (a *Auth) verificationKey(t *jwt.Token) (any, error) {
	if a.secret == nil {
		return a.keyForToken(t)
	}
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("invalid signing method")
	}
	return a.secret, nil
}

// keyForToken resolves the RS256 key for the token's kid, caching it for keyTTL.
func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.jwks == nil {
		return nil, errNoJWKS
	}

	kid, _ := token.Header["kid"].(string)
	cache := kid != "" && a.keyTTL > 0
	if cache {
		if v, ok := a.keys.Load(kid); ok {
			entry := v.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keys.Delete(kid)
		}
	}

	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if cache {
		a.keys.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyTTL)})
	}
	return key, nil
}
