package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billsync/backend/internal/application/migration"
	"github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/books"
	"github.com/billsync/backend/internal/infrastructure/cache"
	"github.com/billsync/backend/internal/infrastructure/config"
	"github.com/billsync/backend/internal/infrastructure/credentials"
	"github.com/billsync/backend/internal/infrastructure/logger"
	"github.com/billsync/backend/internal/infrastructure/pos"
	"github.com/billsync/backend/internal/infrastructure/scheduler"
	"github.com/billsync/backend/internal/interfaces/http/handler"
	"github.com/billsync/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting BillSync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Credential store
	store, err := credentials.NewFileStore(cfg.Credentials.File, log)
	if err != nil {
		log.Fatal("Failed to load credentials", zap.Error(err))
	}
	log.Info("Credentials loaded", zap.Int("accounts", len(store.Accounts())))

	// Contact cache
	contactCache, err := cache.New(cache.Options{
		Backend:  cfg.Cache.Backend,
		TTL:      cfg.Cache.TTL,
		Host:     cfg.Cache.Host,
		Port:     cfg.Cache.Port,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize contact cache", zap.Error(err))
	}
	defer func() {
		if err := contactCache.Close(); err != nil {
			log.Error("Error closing contact cache", zap.Error(err))
		}
	}()

	// Platform clients
	sourceConfig := pos.Config{
		TokenURL:          cfg.Source.TokenURL,
		APIBaseURL:        cfg.Source.APIBaseURL,
		OAuthClientID:     cfg.Source.OAuthClientID,
		OAuthClientSecret: cfg.Source.OAuthClientSecret,
		Language:          cfg.Source.Language,
		Timeout:           cfg.Source.Timeout,
		DaysBack:          cfg.Source.DaysBack,
		Concurrency:       cfg.Source.WindowConcurrency,
	}
	sourceFactory := func(acc credentials.Account) billing.SourcePlatform {
		return pos.NewClient(sourceConfig, acc, store, log)
	}

	target := books.NewClient(books.Config{
		BaseURL:         cfg.Target.BaseURL,
		DocType:         cfg.Target.DocType,
		PageSize:        cfg.Target.PageSize,
		ContactPageSize: cfg.Target.ContactPageSize,
		LookbackYears:   cfg.Target.LookbackYears,
		Timeout:         cfg.Target.Timeout,
		MaxRetries:      cfg.Target.MaxRetries,
		RetryBaseDelay:  cfg.Target.RetryBaseDelay,
	}, store.TargetAPIKey(), log)

	// Migration service
	transformer := migration.NewTransformer(cfg.Target.DocType, cfg.Sync.GenericContactID, cfg.Sync.PaymentMethods)
	service := migration.NewService(store, sourceFactory, target, contactCache, transformer, migration.Config{
		EpochStart:         cfg.Sync.EpochStartTime(),
		RecordBudget:       cfg.Sync.RecordBudget,
		RecordDelay:        cfg.Sync.RecordDelay,
		PrefetchPadding:    cfg.Sync.PrefetchPadding,
		Simplified:         cfg.Sync.Simplified,
		GenericContactCode: cfg.Sync.GenericContactCode,
	}, log)

	// Scheduled trigger
	trigger := scheduler.NewSyncTrigger(scheduler.TriggerConfig{
		Interval: cfg.Scheduler.Interval,
		Timeout:  cfg.Scheduler.Timeout,
	}, service, log)

	if cfg.Scheduler.Enabled {
		if err := trigger.Start(context.Background()); err != nil {
			log.Fatal("Failed to start sync trigger", zap.Error(err))
		}
	} else {
		log.Warn("Scheduled sync is disabled, runs happen only via the trigger endpoint")
	}

	// HTTP surface
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(logger.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(handler.NewSystemHandler())
	r.Register(handler.NewSyncHandler(trigger, log))
	r.Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Scheduler.Enabled {
		if err := trigger.Stop(ctx); err != nil {
			log.Error("Sync trigger did not stop cleanly", zap.Error(err))
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
