package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/qcom/phoneauth/internal/models"
)

// ClientInfoMiddleware stores the caller's IP and user agent in the request
// context. Forwarding headers are only honored behind a trusted proxy.
func ClientInfoMiddleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := models.ClientInfo{
				IPAddress: ClientIP(r, trustProxy),
				UserAgent: r.UserAgent(),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientInfoKey, info)))
		})
	}
}

func ClientInfoFromContext(ctx context.Context) models.ClientInfo {
	info, _ := ctx.Value(clientInfoKey).(models.ClientInfo)
	return info
}

func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
