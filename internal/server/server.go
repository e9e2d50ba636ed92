// Package server exposes the HTTP API: account handling, photo appraisal,
// history, the marketplace connection and admin statistics.
package server

import (
	"net/http"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/snapvalue/snapvalue/internal/auth"
	"github.com/snapvalue/snapvalue/internal/config"
	"github.com/snapvalue/snapvalue/internal/identify"
	"github.com/snapvalue/snapvalue/internal/marketplace"
	"github.com/snapvalue/snapvalue/internal/pricing"
	"github.com/snapvalue/snapvalue/internal/repository"
)

const sessionCookie = "session"

// Server holds the handler dependencies. The oidc and market fields may be
// nil when the corresponding feature is not configured.
type Server struct {
	cfg        config.Config
	log        *zap.Logger
	sessions   *auth.SessionManager
	oidc       *auth.OIDCService
	market     *marketplace.Client
	identifier *identify.Client
	estimator  *pricing.Estimator
	users      *repository.UserRepository
	appraisals *repository.AppraisalRepository
}

// New wires a Server from its dependencies.
func New(
	cfg config.Config,
	log *zap.Logger,
	sessions *auth.SessionManager,
	oidcService *auth.OIDCService,
	market *marketplace.Client,
	identifier *identify.Client,
	estimator *pricing.Estimator,
	users *repository.UserRepository,
	appraisals *repository.AppraisalRepository,
) *Server {
	return &Server{
		cfg:        cfg,
		log:        log,
		sessions:   sessions,
		oidc:       oidcService,
		market:     market,
		identifier: identifier,
		estimator:  estimator,
		users:      users,
		appraisals: appraisals,
	}
}

// Routes builds the full handler, CORS included.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.requireUser(s.handleMe))

	if s.oidc != nil {
		mux.HandleFunc("GET /auth/oidc/login", s.handleOIDCLogin)
		mux.HandleFunc("GET /auth/oidc/callback", s.handleOIDCCallback)
	}

	mux.HandleFunc("POST /api/appraise", s.requireUser(s.handleAppraise))
	mux.HandleFunc("GET /api/appraisals", s.requireUser(s.handleListAppraisals))
	mux.HandleFunc("POST /api/appraisals/{id}/save", s.requireUser(s.handleSaveAppraisal))
	mux.HandleFunc("DELETE /api/appraisals/{id}", s.requireUser(s.handleDeleteAppraisal))

	mux.HandleFunc("GET /api/marketplace/status", s.requireAdmin(s.handleMarketplaceStatus))
	mux.HandleFunc("POST /api/marketplace/disconnect", s.requireAdmin(s.handleMarketplaceDisconnect))
	mux.HandleFunc("GET /auth/marketplace/callback", s.handleMarketplaceCallback)

	mux.HandleFunc("GET /api/admin/stats", s.requireAdmin(s.handleAdminStats))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return corsHandler.Handler(mux)
}
