package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Middleware throttles requests per client IP. Limiter errors are logged
// and the request is let through. X-Forwarded-For is only consulted when
// trustForwarded is set, i.e. the server sits behind a proxy that
// overwrites the header.
func Middleware(l Limiter, prefix string, trustForwarded bool, logger *zap.Logger, onLimited func(r *http.Request)) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, trustForwarded)
			if ip == "" {
				ip = "unknown"
			}

			allowed, remaining, reset, err := l.Allow(r.Context(), prefix+":"+ip)
			if err != nil {
				logger.Warn("Rate limit check failed", zap.String("ip", ip), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				if onLimited != nil {
					onLimited(r)
				}
				retry := int(math.Ceil(time.Until(reset).Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","message":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the remote host, or the first X-Forwarded-For address
// when trustForwarded is set
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
