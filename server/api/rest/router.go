package rest

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lyonslab/yerba/common/logger"
)

type MonitorRouter struct {
	chi.Router
}

func NewMonitorRouter(
	workflow *WorkflowAPI,
	events *EventAPI,
	logFactory logger.LogFactory) *MonitorRouter {

	logger := logFactory("MonitorRouter").
		WithField("version", "v1")

	middleware.DefaultLogger = middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true})
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/v1", func(r chi.Router) {
		// The JSON routes share a timeout; the event stream must outlive it.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/health", workflow.Health)
			r.Route("/workflows", func(r chi.Router) {
				r.Get("/", workflow.List)
				r.Get("/{workflow_id}", workflow.Get)
			})
		})
		r.Get("/events", events.Stream)
	})
	return &MonitorRouter{Router: r}
}
