package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gmartell/paycore/api/controllers"
	"github.com/gmartell/paycore/api/middleware"
	"github.com/gmartell/paycore/internal/gateway"
	"github.com/gmartell/paycore/pkg/config"
	"github.com/gmartell/paycore/pkg/logger"
)

// NewRouter assembles the gateway's HTTP surface: submissions, transaction
// lookups, health probes, and metrics.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	gw *gateway.Gateway,
	dbPinger controllers.Pinger,
	redisPinger controllers.Pinger,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Get("/readyz", controllers.HealthReady(cfg, dbPinger, redisPinger))
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/payments", controllers.SubmitPayment(gw, logg))
		r.Post("/refunds", controllers.SubmitRefund(gw, logg))
		r.Get("/transactions/{transactionID}", controllers.GetTransaction(gw, logg))
		r.Get("/orders/{orderID}/transactions", controllers.ListOrderTransactions(gw, logg))
	})

	return r
}
