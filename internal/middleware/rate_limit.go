package middleware

import (
	"net"
	"net/http"

	"keypool/internal/ratelimit"
	"keypool/internal/utils"
)

// RateLimitByIP rejects a client once limiter denies its address. The address
// is r.RemoteAddr, so chi's RealIP must run first behind a proxy.
func RateLimitByIP(limiter ratelimit.Limiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r.Context(), scope+":"+clientIP(r)) {
				utils.RespondFail(w, http.StatusTooManyRequests, "too many requests, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
