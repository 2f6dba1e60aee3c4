package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/service"
)

type stubVerifier struct {
	principal *service.Principal
	err       error
	gotToken  string
}

func (s *stubVerifier) VerifyIncoming(_ context.Context, raw string) (*service.Principal, error) {
	s.gotToken = raw
	return s.principal, s.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestRequireAuth(t *testing.T) {
	principal := &service.Principal{UserID: "user-1", Role: models.RoleUser}

	tests := []struct {
		name       string
		header     string
		verifier   *stubVerifier
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing header",
			verifier:   &stubVerifier{principal: principal},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "TOKEN_INVALID",
		},
		{
			name:       "wrong scheme",
			header:     "Basic abc",
			verifier:   &stubVerifier{principal: principal},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "TOKEN_INVALID",
		},
		{
			name:       "revoked token",
			header:     "Bearer abc",
			verifier:   &stubVerifier{err: service.ErrTokenRevoked},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "TOKEN_REVOKED",
		},
		{
			name:       "valid token",
			header:     "Bearer abc",
			verifier:   &stubVerifier{principal: principal},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAuthMiddleware(tt.verifier, testLogger())

			var seen *service.Principal
			handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = PrincipalFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				body := decodeBody(t, rec)
				assert.Equal(t, "error", body["status"])
				assert.Equal(t, tt.wantCode, body["code"])
				assert.Nil(t, seen)
				return
			}
			assert.Equal(t, "abc", tt.verifier.gotToken)
			assert.Equal(t, principal, seen)
		})
	}
}

func TestRequireAuth_RevokedMessage(t *testing.T) {
	m := NewAuthMiddleware(&stubVerifier{err: service.ErrTokenRevoked}, testLogger())
	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "token revoked", decodeBody(t, rec)["message"])
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware(&stubVerifier{}, testLogger())
	handler := m.RequireRole(models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		principal  *service.Principal
		wantStatus int
	}{
		{"no principal", nil, http.StatusUnauthorized},
		{"user", &service.Principal{UserID: "u", Role: models.RoleUser}, http.StatusForbidden},
		{"admin", &service.Principal{UserID: "a", Role: models.RoleAdmin}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
