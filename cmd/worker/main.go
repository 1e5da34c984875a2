// cmd/worker/main.go consumes dispatch jobs from RabbitMQ so sending can be
// scaled apart from the API server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/chaser-backend/internal/app"
	"github.com/unclebandit/chaser-backend/internal/config"
	"github.com/unclebandit/chaser-backend/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("CHASER_CONFIG"))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.Setup(cfg.Logging)
	if cfg.AMQP.URL == "" {
		log.Error("worker needs amqp.url; without a broker the server dispatches in process")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("start worker", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.StartWorker(ctx); err != nil {
		log.Error("subscribe", "error", err)
		os.Exit(1)
	}
	log.Info("worker running, waiting for dispatch jobs")
	<-ctx.Done()
	log.Info("worker stopping")
}
