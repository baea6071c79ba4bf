package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/DuesFox/internal/pkg/middleware"
)

type AdminRouter struct {
	deps Dependencies
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	requireAdmin := middleware.RequireAdmin(h.deps.Admin)

	// prometheus scrape endpoint and fiber's own monitor page
	app.Get("/metrics", requireAdmin, adaptor.HTTPHandler(promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})))
	app.Get("/monitor", requireAdmin, monitor.New(monitor.Config{Title: "DuesFox Monitor"}))

	rc := h.deps.Reconcile
	api := app.Group("/admin/api", requireAdmin)

	// Reconciliation
	api.Post("/reconcile/run", rc.HandleRun)
	api.Get("/reconcile/status", rc.HandleStatus)

	// Member billing
	api.Get("/members/:id/billing", rc.HandleMemberBilling)
	api.Post("/members/:id/payments", rc.HandleRecordPayment)
	api.Post("/members/:id/charges/:chargeID/confirm", rc.HandleConfirmCharge)
}

func NewAdminRouter(deps Dependencies) *AdminRouter {
	return &AdminRouter{deps: deps}
}
