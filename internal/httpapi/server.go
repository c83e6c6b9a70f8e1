// Package httpapi exposes the dispatch core over a thin JSON surface. All
// domain decisions stay in internal/dispatch; handlers only adapt bodies and
// URL params.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/microtask/dispatch/internal/config"
	"github.com/microtask/dispatch/pkg/cerr"
	"github.com/microtask/dispatch/pkg/clog"
)

type Server struct {
	server   *http.Server
	env      *config.Env
	handler  *Handler
	gatherer prometheus.Gatherer
}

func NewServer(env *config.Env, handler *Handler, gatherer prometheus.Gatherer) *Server {
	return &Server{
		env:      env,
		handler:  handler,
		gatherer: gatherer,
	}
}

// ListenAndServe starts the HTTP server. The provided context becomes the
// base context of every request, so cancelling it on shutdown also cancels
// in-flight handler contexts.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Routes(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

// Routes builds the full request handler: routing, logging, error mapping,
// CORS, API-key auth and h2c.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseChiMiddleware(),
		)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handler.CreateTask)
			r.Get("/", s.handler.ListTasks)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handler.GetTask)
				r.Get("/work", s.handler.ListTaskWork)
				r.Post("/activate", s.handler.ActivateTask())
				r.Post("/start", s.handler.StartTask())
				r.Post("/pause", s.handler.PauseTask())
				r.Post("/resume", s.handler.ResumeTask())
				r.Post("/accept", s.handler.AcceptTask())
				r.Post("/modifications", s.handler.RequestModifications())
				r.Post("/cancel", s.handler.CancelTask())
				r.Post("/invalidate", s.handler.InvalidateTask())
				r.Post("/description", s.handler.SupplyInvalidDescription())
				r.Post("/class-params", s.handler.SupplyClassParams())
			})
		})

		r.Route("/work", func(r chi.Router) {
			r.Post("/claim", s.handler.ClaimWork)
			r.Route("/{workID}", func(r chi.Router) {
				r.Post("/outcome", s.handler.ReportOutcome)
				r.Post("/release", s.handler.ReleaseWork)
				r.Post("/priority", s.handler.OverrideWorkPriority)
			})
		})

		r.Route("/push", func(r chi.Router) {
			r.Get("/vapid-key", s.vapidKey)
			r.Post("/subscriptions", s.handler.Subscribe)
			r.Delete("/subscriptions", s.handler.Unsubscribe)
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/api/", r)

	return h2c.NewHandler(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(mux)), &http2.Server{})
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) vapidKey(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), struct {
		PublicKey string `json:"public_key"`
	}{PublicKey: s.env.VAPIDEnv.VAPIDPublicKey})
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and metrics are scraped unauthenticated.
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.Header.Get("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}
		if apiKey != s.env.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
