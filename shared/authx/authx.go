// Package authx verifies operator bearer tokens against the identity provider's JWKS.
package authx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKID   = errors.New("unknown kid")
)

type AuthContext struct {
	Subject string
	Roles   []string
}

// Verifier turns a bearer token into an AuthContext. JWTVerifier is the production implementation.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (AuthContext, error)
}

// HasRole matches roles case-insensitively. An empty role requires only authentication.
func (a AuthContext) HasRole(role string) bool {
	role = strings.TrimSpace(role)
	if role == "" {
		return true
	}
	for _, r := range a.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("bearer "):])
	return token, token != ""
}

type JWTVerifier struct {
	jwksURL string
	keys    *jwk.Cache
	parser  *jwt.Parser
}

// NewJWTVerifier registers jwksURL with a jwk.Cache whose background refresh lives as long as ctx.
func NewJWTVerifier(ctx context.Context, issuer string, audience string, jwksURL string, ttlSeconds int, clockSkewSeconds int) (*JWTVerifier, error) {
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if issuer == "" || audience == "" {
		return nil, fmt.Errorf("%w: missing issuer or audience", ErrInvalidToken)
	}
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	if clockSkewSeconds < 0 {
		clockSkewSeconds = 0
	}

	keys := jwk.NewCache(ctx)
	err := keys.Register(jwksURL,
		jwk.WithMinRefreshInterval(time.Duration(ttlSeconds)*time.Second),
		jwk.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("register jwks: %w", err)
	}

	return &JWTVerifier{
		jwksURL: jwksURL,
		keys:    keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			jwt.WithAudience(audience),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(time.Duration(clockSkewSeconds)*time.Second),
		),
	}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, rawToken string) (AuthContext, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return AuthContext{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.key(ctx, strings.TrimSpace(kid))
	})
	if err != nil {
		return AuthContext{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return AuthContext{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return AuthContext{Subject: subject, Roles: parseRoles(claims)}, nil
}

// key looks kid up in the cached set, refreshing once when the provider may have rotated keys.
func (v *JWTVerifier) key(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, ErrUnknownKID
	}
	set, err := v.keys.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		if set, err = v.keys.Refresh(ctx, v.jwksURL); err != nil {
			return nil, fmt.Errorf("refresh jwks: %w", err)
		}
		if key, ok = set.LookupKeyID(kid); !ok {
			return nil, ErrUnknownKID
		}
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func parseRoles(claims map[string]any) []string {
	var roles []string
	appendRole := func(role string) {
		role = strings.TrimSpace(role)
		if role == "" {
			return
		}
		for _, existing := range roles {
			if existing == role {
				return
			}
		}
		roles = append(roles, role)
	}

	for _, key := range []string{"roles", "role"} {
		switch t := claims[key].(type) {
		case []any:
			for _, role := range t {
				appendRole(fmt.Sprint(role))
			}
		case []string:
			for _, role := range t {
				appendRole(role)
			}
		case string:
			for _, role := range strings.Fields(t) {
				appendRole(role)
			}
		}
	}
	if s, ok := claims["scp"].(string); ok {
		for _, scope := range strings.Fields(s) {
			appendRole(scope)
		}
	}
	return roles
}
