package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

const rateLimitMessage = "Too many requests, slow down."

// RateLimit limits requests per client IP to requestsPerMinute using a
// sliding window. Rejections use the JSON error envelope.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByHeader limits requests by the value of headerName, falling back
// to the client IP when the header is absent. Verification uses it so that a
// single presented secret cannot be hammered from many addresses.
func RateLimitByHeader(headerName string, requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if v := r.Header.Get(headerName); v != "" {
				return "h:" + v, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	writeAuthError(w, http.StatusTooManyRequests, rateLimitMessage)
}
