package api

import (
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/go-chi/chi/v5"

	"github.com/windseeker5/minipass-env-sub001/internal/allocator"
	"github.com/windseeker5/minipass-env-sub001/internal/api/handler"
	"github.com/windseeker5/minipass-env-sub001/internal/api/middleware"
	"github.com/windseeker5/minipass-env-sub001/internal/registry"
)

// WebhookSecretHeader carries the shared secret on billing webhook calls.
const WebhookSecretHeader = "X-Webhook-Secret"

// RouterDeps holds all dependencies needed by the router. Route groups
// whose dependencies or credentials are missing are not mounted.
type RouterDeps struct {
	DockerChecker handler.DockerChecker
	DBPinger      handler.DBPinger
	Version       string
	OpenAPISpec   []byte

	Repo         registry.Repository
	Allocator    *allocator.Allocator
	Orchestrator handler.Provisioner
	Events       handler.EventSink
	Queue        handler.JobQueue
	Sweeper      handler.Sweep

	// AdminToken guards the operator surface; empty leaves it unmounted.
	AdminToken string
	// WebhookSecret guards the billing webhook; empty leaves it unmounted.
	WebhookSecret string
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)

	var queueStats handler.QueueStats
	if qs, ok := deps.Queue.(handler.QueueStats); ok {
		queueStats = qs
	}
	healthHandler := handler.NewHealthHandler(deps.DockerChecker, deps.DBPinger, queueStats, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)

	if len(deps.OpenAPISpec) > 0 {
		openapiHandler := handler.NewOpenAPIHandler(deps.OpenAPISpec)
		r.Get("/openapi.json", openapiHandler.ServeHTTP)
	}

	if deps.WebhookSecret != "" && deps.Events != nil && deps.Queue != nil {
		webhookHandler := handler.NewWebhookHandler(deps.Events, deps.Queue)
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(middleware.SharedSecret(WebhookSecretHeader, deps.WebhookSecret))
			r.Post("/billing", webhookHandler.Receive)
		})
	}

	if deps.AdminToken != "" && deps.Repo != nil && deps.Orchestrator != nil && deps.Queue != nil {
		customerHandler := handler.NewCustomerHandler(deps.Repo, deps.Allocator, deps.Orchestrator, deps.Queue)
		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(deps.AdminToken))

			r.Route("/customers", func(r chi.Router) {
				r.Post("/", customerHandler.Create)
				r.Get("/", customerHandler.List)
				r.Get("/{subdomain}", customerHandler.Get)
				r.Delete("/{subdomain}", customerHandler.Delete)
				r.Post("/{subdomain}/upgrade", customerHandler.Upgrade)
				r.Post("/{subdomain}/password", customerHandler.ResetPassword)
			})
			r.Post("/upgrades", customerHandler.UpgradeBatch)

			if deps.Sweeper != nil {
				systemHandler := handler.NewSystemHandler(deps.Sweeper)
				r.Post("/system/sweep", systemHandler.RunSweep)
			}
		})
	}

	return r
}
