package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/3eLLenKa/review-nominations/internal/app"
	"github.com/3eLLenKa/review-nominations/internal/config"
	"github.com/3eLLenKa/review-nominations/internal/logger"
)

func main() {
	cfg := config.MustLoad()

	log := logger.New(cfg.App.LogLevel)

	application := app.NewApp(log, cfg)

	go func() {
		application.Server.Run()
	}()

	log.Info("application started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	application.Stop(ctx)
}
