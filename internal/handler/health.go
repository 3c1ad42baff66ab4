package handler

import (
	"net/http"

	"github.com/attaboy/adaptiveauth/internal/infra"
)

// HealthHandler reports database reachability and evaluator circuits. An
// unreachable database is 503; open circuits only mark the service degraded
// because the engine keeps deciding without those evaluators.
func HealthHandler(db infra.Pinger, openCircuits func() map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"status": "healthy", "database": "ok"}

		latency, err := infra.HealthCheck(r.Context(), db)
		if err != nil {
			body["status"] = "unhealthy"
			body["database"] = err.Error()
			RespondJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database_latency_ms"] = latency.Milliseconds()

		if openCircuits != nil {
			if open := openCircuits(); len(open) > 0 {
				body["status"] = "degraded"
				body["open_circuits"] = open
			}
		}
		RespondJSON(w, http.StatusOK, body)
	}
}
