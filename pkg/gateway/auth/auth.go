package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// Authorized reports whether r carries the expected bearer token. An empty
// expected token disables the check.
func Authorized(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	token, ok := ParseBearer(r)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
