package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenHeader carries the API token for callers that cannot set an
// Authorization header, such as chat bridge webhooks.
const TokenHeader = "X-Ocky-Token"

// TokenAuth admits requests that present token either as a bearer
// credential or in TokenHeader.
func TokenAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := requestToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ocky"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, cred, found := strings.Cut(auth, " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			return "", false
		}
		return strings.TrimSpace(cred), true
	}
	if t := r.Header.Get(TokenHeader); t != "" {
		return t, true
	}
	return "", false
}
