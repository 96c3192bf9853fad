package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/subloop/subloop/pkg/accounts"
	"github.com/subloop/subloop/pkg/auth"
	"github.com/subloop/subloop/pkg/billing"
	"github.com/subloop/subloop/pkg/config"
	"github.com/subloop/subloop/pkg/httputil"
	"github.com/subloop/subloop/pkg/middleware"
	"github.com/subloop/subloop/pkg/observability"
)

// maxWebhookBody caps billing webhook payloads at 1 MiB
const maxWebhookBody = 1 << 20

// Server represents our API server
type Server struct {
	router  *mux.Router
	logger  *observability.Logger
	metrics *observability.Metrics

	store    accounts.Store
	sessions *auth.SessionManager
	hasher   *auth.Hasher
	google   *auth.GoogleAuthenticator

	verifier   *billing.Verifier
	reconciler *billing.Reconciler
	provider   billing.Provider
	appBaseURL string

	authLimiter *middleware.RateLimiter
}

// Options wires the server's collaborators. Google and AuthLimiter are
// optional; everything else is required.
type Options struct {
	Config   *config.Config
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Store    accounts.Store
	Sessions *auth.SessionManager
	Hasher   *auth.Hasher
	Google   *auth.GoogleAuthenticator

	Verifier   *billing.Verifier
	Reconciler *billing.Reconciler
	Provider   billing.Provider

	AuthLimiter *middleware.RateLimiter
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		store:       opts.Store,
		sessions:    opts.Sessions,
		hasher:      opts.Hasher,
		google:      opts.Google,
		verifier:    opts.Verifier,
		reconciler:  opts.Reconciler,
		provider:    opts.Provider,
		appBaseURL:  opts.Config.Billing.AppBaseURL,
		authLimiter: opts.AuthLimiter,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.RecoveryMiddleware(s.logger))
	s.router.Use(httputil.LoggingMiddleware(s.logger, s.metrics))

	// Webhook: raw body, signature-authenticated, never session-authenticated
	s.router.HandleFunc("/api/billing/webhook", s.handleWebhook).Methods("POST")

	// Credential endpoints get the tight rate limit
	authLimit := func(h http.HandlerFunc) http.Handler {
		return s.authLimiter.Handler(h)
	}
	s.router.Handle("/api/auth/register", authLimit(s.handleRegister)).Methods("POST")
	s.router.Handle("/api/auth/login", authLimit(s.handleLogin)).Methods("POST")
	s.router.HandleFunc("/api/auth/logout", s.handleLogout).Methods("POST")
	if s.google != nil {
		s.router.Handle("/api/auth/google", authLimit(s.handleGoogleLogin)).Methods("GET")
		s.router.Handle("/api/auth/google/callback", authLimit(s.handleGoogleCallback)).Methods("GET")
	}

	// Session-authenticated surface
	authed := middleware.NewSessionMiddleware(s.sessions, false)
	s.router.Handle("/api/me", authed.Handler(http.HandlerFunc(s.handleMe))).Methods("GET")
	s.router.Handle("/api/billing/checkout", authed.Handler(http.HandlerFunc(s.handleCheckout))).Methods("POST")
	s.router.Handle("/api/billing/portal", authed.Handler(http.HandlerFunc(s.handlePortal))).Methods("POST")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
