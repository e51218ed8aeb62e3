package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"reelcast/internal/httpapi/handlers"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/pkg/middleware"
)

type Deps struct {
	Handlers handlers.Deps
	// CronSecret guards the /internal triggers.
	CronSecret string
	Log        *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}
	h := handlers.New(d.Handlers)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(h.Log(), fn)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- BATCHES ----
	r.Post("/batches", wrap(h.PostBatches))
	r.Get("/batches/{batchId}", wrap(h.GetBatch))

	// ---- WEBHOOKS ----
	r.Post("/webhooks/render", wrap(h.PostRenderWebhook))

	// ---- INTERNAL TRIGGERS ----
	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(d.CronSecret))
		r.Post("/internal/dispatch", wrap(h.PostDispatch))
		r.Post("/internal/reap", wrap(h.PostReap))
	})

	return r
}
