package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"engagement-gateway/internal/log"
	"engagement-gateway/internal/metrics"
	"engagement-gateway/internal/middleware"
)

type Options struct {
	FrontendURL   string
	ViewRateLimit int // new viewer sockets per minute per IP

	// Sessions serves GET /api/v1/sessions when set.
	Sessions http.HandlerFunc
}

// New builds the gateway's HTTP surface. updates may be nil when live
// updates are disabled.
func New(jwtAuth *middleware.JWTAuth, viewer http.Handler, updates http.Handler, opts Options) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(log.WithComponent("http")))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(opts.FrontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1/ws", func(r chi.Router) {
		r.Use(jwtAuth.Middleware)

		r.With(middleware.RateLimit(opts.ViewRateLimit, time.Minute)).Method(http.MethodGet, "/view", viewer)
		if updates != nil {
			r.Method(http.MethodGet, "/updates", updates)
		}
	})

	if opts.Sessions != nil {
		r.With(jwtAuth.Middleware).Get("/api/v1/sessions", opts.Sessions)
	}

	return otelhttp.NewHandler(r, "engagement-gateway",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	)
}
