package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gate-service/internal/metrics"
	"gate-service/internal/util"
)

// HealthFunc reports per-dependency health; an empty map means healthy.
type HealthFunc func(ctx context.Context) map[string]error

// NewRouter creates and configures the Chi router with all middleware and
// routes.
func NewRouter(gateHandler *GateHandler, health HealthFunc, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	// The pages are public and unauthenticated; CORS stays permissive on
	// origins but narrow on methods.
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if health != nil {
			if errs := health(r.Context()); len(errs) > 0 {
				for name, err := range errs {
					util.Warn("Dependency unhealthy",
						util.String("dependency", name),
						util.ErrorField(err))
				}
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"degraded","service":"gate-service"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"gate-service"}`))
	})

	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The two public gates, with the burst pre-filter in front.
	router.Group(func(r chi.Router) {
		r.Use(BurstLimiter(20, 40))
		gateHandler.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

// LoggerMiddleware logs HTTP requests. It records neither the remote
// address nor the user agent; the anonymity guarantee extends to the
// access log.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
				)
				// Metrics label on the matched route pattern, never the raw
				// path: this is a public endpoint, and caller-chosen paths
				// would mint one series per scanned URL.
				metrics.RecordRequest(routePattern(r), r.Method, statusClass(ww.Status()))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// routePattern reports the chi route pattern the request matched. The
// pattern is filled in during routing, so it is only valid after the
// handler chain has run. Requests that matched nothing collapse into a
// single bucket.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func statusClass(status int) string {
	if status == 0 {
		status = http.StatusOK
	}
	return strconv.Itoa(status/100) + "xx"
}
