package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kraklabs/usenetsync/internal/logger"
	"github.com/kraklabs/usenetsync/pkg/api/auth"
	"github.com/kraklabs/usenetsync/pkg/api/handlers"
	apiMiddleware "github.com/kraklabs/usenetsync/pkg/api/middleware"
	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/publisher"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes:
//   - GET /health, /health/ready - liveness and readiness probes
//   - POST /api/v1/auth/login, /refresh - token issuance
//   - GET /api/v1/auth/me - current user info
//   - /api/v1/users/* - local account management
//   - /api/v1/folders/* - owned folder listing
//   - /api/v1/shares/* - share lifecycle
func NewRouter(engine storage.Engine, jwtService *auth.JWTService, nntpPool *nntp.Pool, pub *publisher.Publisher) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(engine, nntpPool)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	authHandler := handlers.NewAuthHandler(engine, jwtService)
	userHandler := handlers.NewUserHandler(engine)
	folderHandler := handlers.NewFolderHandler(engine)
	shareHandler := handlers.NewShareHandler(engine, pub)

	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes - mostly unauthenticated
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.JWTAuth(jwtService))
				r.Get("/me", authHandler.Me)
			})
		})

		// Account creation is unauthenticated: the first account on a fresh
		// instance has nobody to authenticate against yet. Authorization for
		// everything downstream of account creation still requires a token.
		r.Post("/users", userHandler.Create)

		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(jwtService))

			r.Post("/users/me/password", userHandler.ChangeOwnPassword)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.List)
				r.Get("/{username}", userHandler.Get)
				r.Delete("/{username}", userHandler.Delete)
				r.Post("/{username}/password", userHandler.ResetPassword)
			})

			r.Route("/folders", func(r chi.Router) {
				r.Get("/", folderHandler.List)
				r.Get("/{id}", folderHandler.Get)
				r.Post("/{id}/shares", shareHandler.Create)
			})

			r.Route("/shares", func(r chi.Router) {
				r.Get("/{shareID}", shareHandler.Get)
				r.Post("/{shareID}/revoke", shareHandler.Revoke)
				r.Post("/{shareID}/extend", shareHandler.Extend)
				r.Post("/{shareID}/access", shareHandler.RecordAccess)
			})
		})
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.RequestID(requestID),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			logger.RequestID(requestID),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.Status(ww.Status()),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(float64(duration.Microseconds())/1000),
		)
	})
}
