package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MarioFuchs/StreamVault/internal/pkg/cache"
	"github.com/MarioFuchs/StreamVault/internal/pkg/database"
	"github.com/MarioFuchs/StreamVault/internal/pkg/env"
	"github.com/MarioFuchs/StreamVault/internal/pkg/jobqueue"
	"github.com/MarioFuchs/StreamVault/internal/pkg/metrics/counter"
	"github.com/MarioFuchs/StreamVault/internal/pkg/router"
)

func main() {
	app := NewApplication()

	// periodic flush of buffered movie view counters
	flusherStop := make(chan struct{})
	counter.StartFlusher(time.Minute, flusherStop)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		close(flusherStop)
		jobqueue.GetManager().Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// notification workers for payment and cancellation mails
	jobqueue.GetManager().Start()

	app := fiber.New(fiber.Config{
		// range responses are streamed straight from the store
		StreamRequestBody: true,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
