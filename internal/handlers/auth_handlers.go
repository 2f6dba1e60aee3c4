package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/apperr"
	"github.com/qcom/phoneauth/internal/middleware"
	"github.com/qcom/phoneauth/internal/service"
)

const maxBodyBytes = 1 << 20

type AuthHandlers struct {
	authService *service.AuthService
	logger      *logrus.Logger
}

func NewAuthHandlers(authService *service.AuthService, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		logger:      logger,
	}
}

type SignupRequest struct {
	PhoneNumber     string `json:"phone_number"`
	Role            string `json:"role"`
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ProfileImageRef string `json:"profile_image_ref"`
}

type PhoneRequest struct {
	PhoneNumber string `json:"phone_number"`
	Role        string `json:"role"`
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	Role        string `json:"role"`
	OTP         string `json:"otp"`
	Purpose     string `json:"purpose"`
}

type LoginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Role        string `json:"role"`
	Password    string `json:"password"`
}

type ResetPasswordRequest struct {
	PhoneNumber string `json:"phone_number"`
	Role        string `json:"role"`
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

type ResetTokenResponse struct {
	ResetToken string    `json:"reset_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Response is the envelope of every API response.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (h *AuthHandlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.authService.Signup(r.Context(), service.SignupRequest{
		Phone:           req.PhoneNumber,
		Role:            req.Role,
		FullName:        req.FullName,
		Email:           req.Email,
		Password:        req.Password,
		ProfileImageRef: req.ProfileImageRef,
	}, middleware.ClientInfoFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "OTP sent successfully", nil)
}

func (h *AuthHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.authService.SendOTP(r.Context(), req.PhoneNumber, req.Role); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "OTP sent successfully", nil)
}

func (h *AuthHandlers) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.authService.ResendOTP(r.Context(), req.PhoneNumber, req.Role); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "OTP resent successfully", nil)
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.authService.VerifyOTP(r.Context(), service.VerifyOTPRequest{
		Phone:   req.PhoneNumber,
		Role:    req.Role,
		Code:    req.OTP,
		Purpose: req.Purpose,
	}, middleware.ClientInfoFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "OTP verified", result)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.authService.Login(r.Context(), service.LoginRequest{
		Phone:    req.PhoneNumber,
		Role:     req.Role,
		Password: req.Password,
	}, middleware.ClientInfoFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "Login successful", result)
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	token, err := h.authService.Refresh(r.Context(), p, middleware.ClientInfoFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "Token refreshed", token)
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.authService.Logout(r.Context(), p, middleware.ClientInfoFromContext(r.Context())); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "Logged out successfully", nil)
}

func (h *AuthHandlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	count, err := h.authService.LogoutAll(r.Context(), p, middleware.ClientInfoFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "Logged out of all sessions", map[string]int{
		"revoked_sessions": count,
	})
}

func (h *AuthHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	sessions, err := h.authService.ListSessions(r.Context(), p)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "Active sessions", map[string]interface{}{
		"sessions": sessions,
	})
}

func (h *AuthHandlers) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	sessionID := mux.Vars(r)["id"]
	if err := h.authService.RevokeSession(r.Context(), p, sessionID, middleware.ClientInfoFromContext(r.Context())); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "Session revoked", nil)
}

func (h *AuthHandlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), req.PhoneNumber, req.Role, middleware.ClientInfoFromContext(r.Context())); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "If an account exists for this number, a code has been sent", nil)
}

func (h *AuthHandlers) ForgotPasswordVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, expiresAt, err := h.authService.ForgotPasswordVerify(r.Context(), req.PhoneNumber, req.Role, req.OTP, middleware.ClientInfoFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "OTP verified", ResetTokenResponse{
		ResetToken: token,
		ExpiresAt:  expiresAt,
	})
}

func (h *AuthHandlers) ForgotPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.authService.ForgotPasswordReset(r.Context(), service.ResetPasswordRequest{
		Phone:       req.PhoneNumber,
		Role:        req.Role,
		ResetToken:  req.ResetToken,
		NewPassword: req.NewPassword,
	}, middleware.ClientInfoFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "Password updated, please log in again", nil)
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	user, err := h.authService.Me(r.Context(), p)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "Current user", user)
}

func (h *AuthHandlers) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondWithError(w, r, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := h.authService.SecurityEvents(r.Context(), p, r.URL.Query().Get("user_id"), limit)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, "Security events", map[string]interface{}{
		"events": events,
	})
}

func (h *AuthHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondWithError(w, r, apperr.Validation("Invalid request body"))
		return false
	}
	return true
}

func (h *AuthHandlers) principal(w http.ResponseWriter, r *http.Request) (*service.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.respondWithError(w, r, service.ErrTokenInvalid)
		return nil, false
	}
	return p, true
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Status: "success", Message: message, Data: data}); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

// respondWithError renders err through the error taxonomy. Causes of
// internal errors are logged and never sent to the client.
func (h *AuthHandlers) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindInternal {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"code":   ae.Code,
		}).Error("Request failed")
	}

	var data map[string]int
	if ae.RetryAfter > 0 {
		seconds := apperr.RetryAfterSeconds(ae.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		data = map[string]int{"retry_after_seconds": seconds}
	}
	if ae.Remaining >= 0 {
		if data == nil {
			data = map[string]int{}
		}
		data["remaining_attempts"] = ae.Remaining
	}

	resp := Response{Status: "error", Message: ae.Message, Code: ae.Code}
	if data != nil {
		resp.Data = data
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Kind.HTTPStatus())
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
