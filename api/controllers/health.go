package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lumenfund/giving-backend/api/responses"
	"github.com/lumenfund/giving-backend/pkg/config"
	pkgerrors "github.com/lumenfund/giving-backend/pkg/errors"
	"github.com/lumenfund/giving-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Giving-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when the backing stores answer a ping.
func HealthReady(cfg *config.Config, logg *logger.Logger, db, cache pinger) http.HandlerFunc {
	deps := []struct {
		name   string
		target pinger
	}{
		{name: "postgres", target: db},
		{name: "redis", target: cache},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Giving-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		for _, dep := range deps {
			if dep.target == nil {
				continue
			}
			if err := dep.target.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s unavailable", dep.name)))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
