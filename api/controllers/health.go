package controllers

import (
	"context"
	"net/http"

	"github.com/gmartell/paycore/api/responses"
	"github.com/gmartell/paycore/pkg/config"
)

// Pinger is the health-check surface of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Paycore-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports readiness of the database and redis dependencies.
func HealthReady(cfg *config.Config, dbPinger, redisPinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Paycore-Env", cfg.App.Env)

		checks := map[string]string{"db": "ok", "redis": "ok"}
		status := http.StatusOK
		if dbPinger != nil {
			if err := dbPinger.Ping(r.Context()); err != nil {
				checks["db"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if redisPinger != nil {
			if err := redisPinger.Ping(r.Context()); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		responses.WriteSuccessStatus(w, status, checks)
	}
}
