package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/apperr"
	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/service"
)

type contextKey int

const (
	principalKey contextKey = iota
	clientInfoKey
)

// TokenVerifier authenticates a bearer token.
type TokenVerifier interface {
	VerifyIncoming(ctx context.Context, raw string) (*service.Principal, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *logrus.Logger
}

func NewAuthMiddleware(verifier TokenVerifier, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *service.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller set by RequireAuth.
func PrincipalFromContext(ctx context.Context) (*service.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*service.Principal)
	return p, ok && p != nil
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, service.ErrTokenInvalid.WithMessage("missing authorization header"))
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
			m.respondError(w, service.ErrTokenInvalid.WithMessage("invalid authorization header format"))
			return
		}

		principal, err := m.verifier.VerifyIncoming(r.Context(), strings.TrimSpace(tokenString))
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			m.respondError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireRole admits callers whose role is one of roles. It must run after
// RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				m.respondError(w, service.ErrTokenInvalid)
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			m.respondError(w, service.ErrForbidden)
		})
	}
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	status := ae.Kind.HTTPStatus()
	message := ae.Message
	if ae.Kind == apperr.KindInternal {
		m.logger.WithError(err).Error("Failed to authenticate request")
		message = "internal server error"
	}
	if ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apperr.RetryAfterSeconds(ae.RetryAfter)))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"code":    ae.Code,
		"message": message,
	})
}
