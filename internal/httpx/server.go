package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/metrics"
)

// HandlerTimeout bounds a single request. Graceful shutdown must allow at
// least this long for in-flight handlers.
const HandlerTimeout = 15 * time.Second

// NewRouter builds the base router with the shared middleware stack,
// /healthz and /metrics. Handlers attach their routes with Register.
func NewRouter(log *zap.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) *chi.Mux {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(observe(log, m))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(HandlerTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
