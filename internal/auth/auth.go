// Package auth resolves the calling user's identity from either an API
// key header or a JWT bearer token, mirroring the reference service's
// dual API-key/JWT dependency chain.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when neither an API key nor a JWT
// produced a usable identity.
var ErrUnauthenticated = errors.New("auth: missing or invalid authentication")

// Resolver extracts a user identity from an incoming request, checking
// the configured API key header first and falling back to a JWT bearer
// token.
type Resolver struct {
	apiKeyHeader string
	apiKeys      map[string]bool
	jwtSecret    []byte
}

// New builds a Resolver. apiKeyHeader is the header name to read API
// keys from (e.g. "X-API-Key"); apiKeys is the configured allowlist.
// jwtSecret may be empty, in which case JWT verification is disabled
// and only API keys are accepted.
func New(apiKeyHeader string, apiKeys []string, jwtSecret string) *Resolver {
	keys := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keys[k] = true
		}
	}
	return &Resolver{
		apiKeyHeader: apiKeyHeader,
		apiKeys:      keys,
		jwtSecret:    []byte(jwtSecret),
	}
}

// Authenticate resolves the user identity for r, trying the API key
// header first and the Authorization bearer token second.
func (a *Resolver) Authenticate(r *http.Request) (string, error) {
	if user := a.userFromAPIKey(r.Header.Get(a.apiKeyHeader)); user != "" {
		return user, nil
	}
	if user := a.userFromBearer(r.Header.Get("Authorization")); user != "" {
		return user, nil
	}
	return "", ErrUnauthenticated
}

func (a *Resolver) userFromAPIKey(key string) string {
	if key == "" || len(a.apiKeys) == 0 || !a.apiKeys[key] {
		return ""
	}
	n := len(key)
	if n > 8 {
		n = 8
	}
	return "api:" + key[:n]
}

func (a *Resolver) userFromBearer(header string) string {
	if len(a.jwtSecret) == 0 {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	raw := strings.TrimPrefix(header, prefix)

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	for _, name := range []string{"sub", "user_id", "uid"} {
		if v, ok := claims[name]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
