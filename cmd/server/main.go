package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/api"
	"github.com/rongwang/sts-clearance/internal/cache"
	"github.com/rongwang/sts-clearance/internal/config"
	"github.com/rongwang/sts-clearance/internal/dashboard"
	"github.com/rongwang/sts-clearance/internal/notification"
	"github.com/rongwang/sts-clearance/internal/repository"
	"github.com/rongwang/sts-clearance/internal/service"
	"github.com/rongwang/sts-clearance/internal/snapshot"
	"github.com/rongwang/sts-clearance/internal/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := utils.NewLogger(utils.LoggerOptions{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Development: cfg.Log.Development,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Set up database connection and migrate
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to set up database", zap.Error(err))
	}
	defer db.Close()

	repo := repository.NewPostgresRepository(db)
	notifications := notification.NewPostgresStore(db)

	store, closeCache := newCacheStore(cfg, logger)
	defer closeCache()

	var sire dashboard.SireScoreProvider = dashboard.HashScoreProvider{}
	if cfg.Sire.APIURL != "" {
		sire = dashboard.NewHTTPScoreProvider(cfg.Sire.APIURL, cfg.Sire.APIKey, cfg.Sire.Timeout)
		logger.Info("sire provider configured", zap.String("url", cfg.Sire.APIURL))
	} else {
		logger.Info("no SIRE_API_URL set, using offline sire scores")
	}

	dashOpts := dashboard.Options{
		GracePeriodDays:       cfg.Dashboard.GracePeriodDays,
		DefaultCommissionRate: cfg.Dashboard.DefaultCommissionRate,
		Tenant:                cfg.Dashboard.Tenant,
		CacheTTL:              cfg.Dashboard.CacheTTL,
		SireCacheTTL:          cfg.Sire.CacheTTL,
	}
	dashboards := dashboard.NewServices(repo, sire, store, logger, dashOpts)
	projection := dashboard.NewProjectionService(repo, dashboards, notifications, logger, dashOpts)

	svc := service.NewDefaultService(repo, notifications, logger, service.Options{
		JWTSecret: cfg.Auth.JWTSecret,
		TokenTTL:  cfg.Auth.TokenTTL,
		Tenant:    cfg.Dashboard.Tenant,
	})

	handler := api.NewHandler(svc, projection, dashboards, logger, api.Options{
		Cache:    store,
		CacheTTL: cfg.Dashboard.CacheTTL,
		Ready:    db.PingContext,
	})

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(handler, cfg.Auth.JWTSecret, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Snapshot.Enabled {
		scheduler := snapshot.NewScheduler(logger, ctx)
		snap := snapshot.NewSnapshotter(repo, dashboards.Metrics, logger, nil)
		if _, err := scheduler.AddSnapshot(cfg.Snapshot.Schedule, snap); err != nil {
			logger.Fatal("invalid snapshot schedule", zap.String("spec", cfg.Snapshot.Schedule), zap.Error(err))
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
}

// newCacheStore picks the dashboard and SIRE cache backend. An unreachable redis
// falls back to the in-process store.
func newCacheStore(cfg *config.Config, logger *zap.Logger) (cache.Store, func()) {
	if cfg.Cache.Backend != "redis" {
		return cache.NewMemoryStore(), func() {}
	}

	rs := cache.NewRedisStore(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	}, "sts:")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using memory cache", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		_ = rs.Close()
		return cache.NewMemoryStore(), func() {}
	}

	logger.Info("redis cache connected", zap.String("addr", cfg.Cache.RedisAddr))
	return rs, func() { _ = rs.Close() }
}
