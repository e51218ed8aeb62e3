package handlers

import (
	"context"
	"net/http"
	"time"

	"reelcast/internal/httpkit"
)

// Health reports liveness. With ?deep=true it also checks the store, Redis
// and artifact storage.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":  "ok",
		"service": "reelcast",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] != "ok" {
				health["status"] = "degraded"
				log.Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := map[string]map[string]any{}
	if h.store != nil {
		checks["store"] = h.checkStore(ctx)
	}
	if h.redis != nil {
		checks["redis"] = probe(ctx, h.redis.Ping)
	}
	if h.artifacts != nil {
		checks["storage"] = h.checkStorage(ctx)
	}
	return checks
}

func (h *Handler) checkStore(ctx context.Context) map[string]any {
	result := probe(ctx, h.store.Ping)
	if s, ok := h.store.(interface{ Stats() map[string]any }); ok && result["status"] == "ok" {
		for k, v := range s.Stats() {
			result[k] = v
		}
	}
	return result
}

// checkStorage lists the storage root, which proves the credentials work.
func (h *Handler) checkStorage(ctx context.Context) map[string]any {
	result := probe(ctx, func(ctx context.Context) error {
		_, err := h.artifacts.List(ctx, "")
		return err
	})
	result["provider"] = h.artifacts.Provider()
	return result
}

func probe(ctx context.Context, check func(context.Context) error) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := check(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
