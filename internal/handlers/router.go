package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/middleware"
	"github.com/qcom/phoneauth/internal/models"
)

// RouterOptions carries the pieces of the router that are not handlers.
type RouterOptions struct {
	// Metrics serves /metrics when set.
	Metrics    http.Handler
	TrustProxy bool
}

func NewRouter(
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	opts RouterOptions,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.ClientInfoMiddleware(opts.TrustProxy))
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics).Methods("GET")
	}

	auth := router.PathPrefix("/api/v1/auth").Subrouter()
	auth.HandleFunc("/signup", authHandlers.Signup).Methods("POST", "OPTIONS")
	auth.HandleFunc("/send-otp", authHandlers.SendOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/resend-otp", authHandlers.ResendOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/verify-otp", authHandlers.VerifyOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/forgot-password", authHandlers.ForgotPassword).Methods("POST", "OPTIONS")
	auth.HandleFunc("/forgot-password/verify", authHandlers.ForgotPasswordVerify).Methods("POST", "OPTIONS")
	auth.HandleFunc("/forgot-password/reset", authHandlers.ForgotPasswordReset).Methods("POST", "OPTIONS")

	protected := auth.NewRoute().Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/refresh", authHandlers.RefreshToken).Methods("POST", "OPTIONS")
	protected.HandleFunc("/logout", authHandlers.Logout).Methods("POST", "OPTIONS")
	protected.HandleFunc("/logout-all", authHandlers.LogoutAll).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions", authHandlers.ListSessions).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sessions/{id}", authHandlers.RevokeSession).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/me", authHandlers.Me).Methods("GET", "OPTIONS")

	admin := protected.NewRoute().Subrouter()
	admin.Use(authMiddleware.RequireRole(models.RoleAdmin))
	admin.HandleFunc("/security-events", authHandlers.SecurityEvents).Methods("GET", "OPTIONS")

	return router
}
