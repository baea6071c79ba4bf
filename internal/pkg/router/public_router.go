package router

import (
	"github.com/gofiber/fiber/v2"
)

type PublicRouter struct {
	deps Dependencies
}

func (h PublicRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", h.deps.Reconcile.HandleHealth)
}

func NewPublicRouter(deps Dependencies) *PublicRouter {
	return &PublicRouter{deps: deps}
}
