package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3eLLenKa/review-nominations/internal/activity"
	"github.com/3eLLenKa/review-nominations/internal/config"
	"github.com/3eLLenKa/review-nominations/internal/delivery/http/handlers"
	"github.com/3eLLenKa/review-nominations/internal/delivery/http/server"
	"github.com/3eLLenKa/review-nominations/internal/directory"
	"github.com/3eLLenKa/review-nominations/internal/fetch"
	"github.com/3eLLenKa/review-nominations/internal/notify"
	"github.com/3eLLenKa/review-nominations/internal/reconcile"
	"github.com/3eLLenKa/review-nominations/internal/repository"
	"github.com/3eLLenKa/review-nominations/internal/repository/postgres"
	"github.com/3eLLenKa/review-nominations/internal/service"
	"github.com/3eLLenKa/review-nominations/internal/store"
)

type App struct {
	Server   *server.Server
	postgres *postgres.Postgres
}

func NewApp(log *slog.Logger, cfg *config.Config) *App {
	pg, err := postgres.New(cfg.Database.DSN(), postgres.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		panic(err)
	}

	migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := postgres.Migrate(migrateCtx, pg.Db, cfg.Migrations.Dir, log); err != nil {
		panic(err)
	}

	repo := repository.New(pg.Db)

	fetcher := fetch.New(log, fetch.Settings{
		Name:         "nominations-primary",
		Timeout:      cfg.Database.QueryTimeout,
		MaxRequests:  cfg.Breaker.MaxRequests,
		Interval:     cfg.Breaker.Interval,
		OpenTimeout:  cfg.Breaker.Timeout,
		MinRequests:  cfg.Breaker.MinRequests,
		FailureRatio: cfg.Breaker.FailureRatio,
	})

	st := store.New(log, fetcher, repo.Nomination, repo.External, repo.Assessment)
	dir := directory.New(log, fetcher, repo.Member, repo.External)
	engine := reconcile.New(log, st, time.Now)
	feed := activity.New(log, st, dir)
	notifications := notify.New(log, fetcher, st, repo.Watermark, dir, time.Now)

	svc := service.New(log, st, dir, engine, feed, notifications, activity.Options{
		WindowSize:  cfg.Feed.WindowSize,
		OutputLimit: cfg.Feed.OutputLimit,
	}, time.Now)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pg.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.NewHandlers(log, svc).Register(router)

	addr := ":" + cfg.App.Port

	httpServer := server.New(log, addr, router)

	return &App{
		Server:   httpServer,
		postgres: pg,
	}
}

func (a *App) Stop(ctx context.Context) {
	a.Server.Stop(ctx)
	if err := a.postgres.Close(); err != nil {
		slog.Error("failed to close postgres", slog.Any("err", err))
	}
}
