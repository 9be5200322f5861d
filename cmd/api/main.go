package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutormarket/internal/app"
	"tutormarket/internal/auth"
	"tutormarket/internal/config"
	"tutormarket/internal/httpapi"
	"tutormarket/internal/httpmiddleware"
	"tutormarket/internal/logging"
	"tutormarket/internal/reconcile"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Chat.Start(ctx); err != nil {
		return err
	}

	// without a shared queue the worker runs in-process
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := a.Worker().Run(ctx); err != nil {
				logger.Error("in-process worker stopped", zap.Error(err))
			}
		}()
		sched := reconcile.NewScheduler(a.Queue, cfg.ReconcileInterval, logger.Named("scheduler"))
		sched.Start(ctx)
		defer sched.Stop()
	}

	checks := []httpapi.Check{{Name: "db", Ping: a.Store.Ping}}
	if a.Redis != nil {
		checks = append(checks, httpapi.Check{Name: "redis", Ping: a.Redis.Ping})
	}

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).WithMetrics(a.Metrics)
	limiter.StartEviction(ctx, time.Minute)

	handler := httpapi.New(httpapi.Config{
		Engine: a.Engine,
		Chat:   a.Chat,
		Auth: auth.Config{
			SigningKey:  cfg.JWTSigningKey,
			Issuer:      cfg.JWTIssuer,
			AdminEmails: cfg.AdminEmails,
			Syncer:      a.Engine,
			Logger:      logger,
		},
		Limiter:   limiter,
		Checks:    checks,
		Gatherer:  a.Registry,
		DevTokens: !cfg.Production(),
		TokenTTL:  cfg.AccessTTL,
		Logger:    logger.Named("http"),
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.AccessLog(logger.Named("access"), a.Metrics))
	r.Use(cors.New(corsConfig(cfg)))
	r.Use(httpmiddleware.SecurityHeaders())
	handler.Register(r)

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: it would cut long-lived WebSocket connections
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

func corsConfig(cfg config.App) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	c.MaxAge = 12 * time.Hour
	if len(cfg.CORSOrigins) > 0 {
		c.AllowOrigins = cfg.CORSOrigins
		c.AllowCredentials = true
	} else {
		c.AllowAllOrigins = true
	}
	return c
}

func init() {
	// keep stdlib log lines, such as config warnings, on the same stream as zap
	log.SetOutput(os.Stdout)
}
