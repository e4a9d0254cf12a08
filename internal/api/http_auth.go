package api

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"peregovorka/internal/apperrors"
	"peregovorka/internal/config"
)

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	enabled bool
	auth    *keyAuth
	limiter *rateLimiter
}

func NewHTTPAuth(cfg *config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		enabled: cfg.Enabled && cfg.HTTP.Enabled,
		auth:    newKeyAuth(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		if a.auth.enabled {
			err := a.auth.check(
				strings.TrimSpace(r.Header.Get(a.auth.apiKeyName)),
				strings.TrimSpace(r.Header.Get(a.auth.extraName)),
				requiredPermissionHTTP(r),
			)
			if err != nil {
				if errors.Is(err, errPermissionDenied) {
					writeErrorMessage(w, http.StatusForbidden, apperrors.KindForbidden, err.Error())
					return
				}
				writeErrorMessage(w, http.StatusUnauthorized, "unauthenticated", err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeErrorMessage(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requiredPermissionHTTP(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	read := r.Method == http.MethodGet || r.Method == http.MethodHead

	switch {
	case strings.HasPrefix(path, "/conflicts"),
		strings.HasPrefix(path, "/rooms/") && strings.HasSuffix(path, "/availability"):
		return permReadAvailability
	case strings.HasPrefix(path, "/rooms"):
		return permReadRooms
	case strings.HasPrefix(path, "/bookings"):
		if read {
			return permReadBookings
		}
		return permWriteBookings
	case strings.HasPrefix(path, "/approvals"), strings.HasPrefix(path, "/managers"):
		if read {
			return permReadApprovals
		}
		return permWriteApprovals
	default:
		return ""
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.auth.apiKeyName)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
