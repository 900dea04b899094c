package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hangawi/ai-schedule-api/internal/handler"
	"github.com/hangawi/ai-schedule-api/internal/middleware"
	"github.com/hangawi/ai-schedule-api/internal/repository"
	"github.com/hangawi/ai-schedule-api/internal/service"
	"github.com/hangawi/ai-schedule-api/pkg/cache"
	"github.com/hangawi/ai-schedule-api/pkg/config"
	"github.com/hangawi/ai-schedule-api/pkg/database"
	"github.com/hangawi/ai-schedule-api/pkg/events"
	"github.com/hangawi/ai-schedule-api/pkg/logger"
	corsmiddleware "github.com/hangawi/ai-schedule-api/pkg/middleware/cors"
	reqidmiddleware "github.com/hangawi/ai-schedule-api/pkg/middleware/requestid"
	"github.com/hangawi/ai-schedule-api/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	notifier := events.NewRedisNotifier(redisClient, logr)
	settings := service.SettingsFromConfig(cfg.Coordination)

	rooms := repository.NewRoomRepository(db)
	members := repository.NewMemberRepository(db)
	prefs := repository.NewPreferenceRepository(db)
	slots := repository.NewSlotRepository(db)
	requests := repository.NewRequestRepository(db)
	carryOvers := repository.NewCarryOverRepository(db)
	activities := repository.NewActivityRepository(db)

	metricsSvc := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	activitySvc := service.NewActivityService(activities, cfg.Activity, logr)
	activitySvc.Start(ctx)
	defer activitySvc.Stop()

	var travel service.TravelEstimator = service.StaticTravelEstimator{}
	if cfg.Travel.Enabled {
		travel = service.NewHTTPTravelEstimator(cfg.Travel, redisClient, logr)
	}

	var archive *storage.LocalStorage
	var signer *storage.SignedURLSigner
	if cfg.Exports.Enabled && cfg.Exports.ArchiveDir != "" {
		archive, err = storage.NewLocalStorage(cfg.Exports.ArchiveDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare export archive", "error", err)
		}
		signer = storage.NewSignedURLSigner(cfg.JWT.Secret, cfg.Exports.TokenTTL)
		go pruneArchivedExports(ctx, archive, cfg.Exports.TokenTTL, logr)
	}

	autoAssignSvc := service.NewAutoAssignService(rooms, members, prefs, slots, carryOvers, cacheSvc, activitySvc, notifier, validate, logr, settings)
	exchangeSvc := service.NewExchangeService(rooms, members, prefs, slots, requests, cacheSvc, activitySvc, notifier, validate, logr, settings)
	relocationSvc := service.NewRelocationService(rooms, prefs, slots, requests, travel, cacheSvc, activitySvc, notifier, validate, logr, settings)
	scheduleSvc := service.NewScheduleService(rooms, members, prefs, slots, carryOvers, cacheSvc, archive, signer, validate, logr, settings)

	coordinationHandler := handler.NewCoordinationHandler(autoAssignSvc, scheduleSvc, activitySvc, metricsSvc)
	exchangeHandler := handler.NewExchangeHandler(exchangeSvc, metricsSvc)
	relocationHandler := handler.NewRelocationHandler(relocationSvc, metricsSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT))
	{
		rooms := api.Group("/rooms/:roomId")
		rooms.POST("/schedule/auto-assign", coordinationHandler.AutoAssign)
		rooms.GET("/timetable", coordinationHandler.Timetable)
		rooms.GET("/slots", coordinationHandler.Slots)
		rooms.GET("/carryovers", coordinationHandler.CarryOvers)
		rooms.GET("/activity", coordinationHandler.Activity)
		if cfg.Exports.Enabled {
			rooms.GET("/schedule/export", coordinationHandler.Export)
			api.GET("/exports/download", coordinationHandler.DownloadExport)
		}
		rooms.POST("/requests", exchangeHandler.Create)
		rooms.GET("/requests", exchangeHandler.List)
		rooms.POST("/slots/relocate", relocationHandler.Relocate)

		api.POST("/requests/:id/approve", exchangeHandler.Approve)
		api.POST("/requests/:id/reject", exchangeHandler.Reject)
		api.POST("/requests/:id/cancel", exchangeHandler.Cancel)
		api.POST("/requests/:id/confirm-chain", exchangeHandler.ConfirmChain)

		api.GET("/status/metrics", metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// pruneArchivedExports drops archived files once their download tokens can
// no longer reference them.
func pruneArchivedExports(ctx context.Context, archive *storage.LocalStorage, ttl time.Duration, logr *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := archive.CleanupOlderThan(ttl)
			if err != nil {
				logr.Sugar().Warnw("export archive cleanup failed", "error", err)
				continue
			}
			if len(deleted) > 0 {
				logr.Sugar().Infow("export archive pruned", "files", len(deleted))
			}
		}
	}
}
