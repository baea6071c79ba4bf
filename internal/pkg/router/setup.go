package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ManuelReschke/DuesFox/app/controllers"
	"github.com/ManuelReschke/DuesFox/internal/pkg/middleware"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are shared by every router.
type Dependencies struct {
	Reconcile *controllers.AdminReconcileController
	Admin     middleware.AdminCredentials
	// Gatherer defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	// Public routes first so /health stays outside the admin auth.
	setup(app, NewPublicRouter(deps), NewAdminRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
