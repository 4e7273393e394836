package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"log"
	"net/http"
	"strings"
)

// FeedAuth guards ingestion routes with a shared bearer token.
// An empty token disables the check (local development).
//
// Tokens are compared through HMAC digests so the comparison time does not
// depend on the length or prefix of the presented token.
func FeedAuth(token string) func(http.Handler) http.Handler {
	if token == "" {
		log.Println("⚠️ FEED_TOKEN not set - feed ingestion is unauthenticated")
		return func(next http.Handler) http.Handler { return next }
	}
	want := tokenDigest(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok || !hmac.Equal(tokenDigest(got), want) {
				RecordConnectionRejected("auth")
				w.Header().Set("WWW-Authenticate", `Bearer realm="feed"`)
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func tokenDigest(token string) []byte {
	mac := hmac.New(sha256.New, []byte("goblin-dig/feed"))
	mac.Write([]byte(token))
	return mac.Sum(nil)
}
