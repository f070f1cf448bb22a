package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/medisync-labs/medisync-backend/api/responses"
	"github.com/medisync-labs/medisync-backend/pkg/config"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
)

const readinessProbeTimeout = 5 * time.Second

// ReadinessProbe is one named dependency check the readiness endpoint runs.
type ReadinessProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MediSync-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the hard dependencies and reports 503 with the per-probe
// state while any of them is down.
func HealthReady(cfg *config.Config, logg *logger.Logger, probes ...ReadinessProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MediSync-Env", cfg.App.Env)

		statuses := make(map[string]string, len(probes))
		ready := true
		for _, probe := range probes {
			probeCtx, cancel := context.WithTimeout(r.Context(), readinessProbeTimeout)
			err := probe.Check(probeCtx)
			cancel()
			if err != nil {
				ready = false
				statuses[probe.Name] = "down"
				if logg != nil {
					logg.Error(r.Context(), fmt.Sprintf("readiness probe %s failed", probe.Name), err)
				}
				continue
			}
			statuses[probe.Name] = "up"
		}

		if !ready {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(statuses))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": statuses})
	}
}
