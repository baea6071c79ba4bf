package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/DuesFox/app/controllers"
	"github.com/ManuelReschke/DuesFox/internal/pkg/bootstrap"
	"github.com/ManuelReschke/DuesFox/internal/pkg/env"
	"github.com/ManuelReschke/DuesFox/internal/pkg/middleware"
	"github.com/ManuelReschke/DuesFox/internal/pkg/router"
)

func main() {
	app, svc := NewApplication()

	// stop the renewal timer before the connections go away
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}()

	svc.Manager.Start()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if cerr := svc.Close(); cerr != nil {
		log.Printf("Closing services: %v", cerr)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *bootstrap.Services) {
	svc, err := bootstrap.Setup()
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "DuesFox",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Reconcile: controllers.NewAdminReconcileController(svc.Manager, svc.Scheduler, svc.Members),
		Admin:     middleware.AdminCredentialsFromEnv(),
	})

	return app, svc
}
