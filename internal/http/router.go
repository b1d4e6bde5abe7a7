package httpapi

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	"sta-timeseries/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	ServiceRoot    string        // e.g. /sta-timeseries/v1.1
	RequestTimeout time.Duration // deadline of every request; 0 disables
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer // serves /metrics when set
}

// NewRouter builds the HTTP surface. admin may be nil.
func NewRouter(cfg RouterConfig, sta *STAHandler, admin *AdminHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "If-Match", "If-None-Match", "X-Request-ID"},
		ExposedHeaders: []string{"ETag", "Location", "X-Request-ID"},
	}))
	r.Use(middleware.RealIP)
	r.Use(AccessLogMiddleware(logger, cfg.Metrics))
	r.Use(middleware.Recoverer)

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if admin != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(TimeoutMiddleware(cfg.RequestTimeout))
			r.Get("/integrity", admin.Integrity)
			r.Post("/cache/invalidate", admin.InvalidateCache)
		})
	}

	root := strings.TrimRight(cfg.ServiceRoot, "/")
	if parent := path.Dir(root); parent != "/" && parent != "." {
		r.Get(parent, sta.VersionRoot)
	}

	r.Route(root, func(r chi.Router) {
		r.Use(TimeoutMiddleware(cfg.RequestTimeout))

		r.Get("/Datastreams({id})/Observations", sta.ListDatastreamObservations)
		r.Get("/Sensors({sid})/Datastreams({id})/Observations", sta.ListDatastreamObservations)
		r.Post("/Datastreams({id})/Observations", sta.CreateDatastreamObservation)

		r.Get("/Observations", sta.ListObservations)
		r.Post("/Observations", sta.CreateObservation)
		r.Get("/Observations({id})", sta.GetObservation)

		r.Get("/", sta.Proxy)
		r.HandleFunc("/*", sta.Proxy)
		// other methods on the specialised paths
		r.MethodNotAllowed(sta.Proxy)
	})
	return r
}

// TimeoutMiddleware puts a deadline on the request context. Work that
// overruns it fails as BackendUnavailable in the handlers.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
