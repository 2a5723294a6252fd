package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"repairpos/backend/internal/cache"
	"repairpos/backend/internal/config"
	"repairpos/backend/internal/debt"
	"repairpos/backend/internal/gate"
	"repairpos/backend/internal/httpapi"
	"repairpos/backend/internal/logger"
	"repairpos/backend/internal/metrics"
	"repairpos/backend/internal/service"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/store/memory"
	pgstore "repairpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := pgstore.Migrate(cfg.DatabaseURL, log); err != nil {
				log.Fatal("migrations failed", zap.Error(err))
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.DefaultBranchID, log)
		log.Info("repository: in-memory", zap.String("branch", cfg.DefaultBranchID))
	}

	var (
		submitGate gate.Gate         = gate.NewMemory()
		replay     cache.ReplayCache = cache.NoopReplayCache{}
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisReplayCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-process gate and no replay cache", zap.Error(err))
			_ = client.Close()
		} else {
			replay = redisCache
			submitGate = gate.NewRedis(client, cfg.SubmitLockTTL(), log)
			closers = append(closers, client.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: none")
	}

	recorder := metrics.New()
	engine := service.New(repo, service.Options{
		DefaultBranchID:     cfg.DefaultBranchID,
		OrderIDPrefix:       cfg.OrderIDPrefix,
		LowStockThreshold:   cfg.LowStockThreshold,
		DeferStockOnDeposit: cfg.DeferStockOnDeposit,
		ReplayTTL:           cfg.IdempotencyTTL(),
		Gate:                submitGate,
		Replay:              replay,
		Debts:               debt.NewService(repo, cfg.PhoneRegion, log),
		Metrics:             recorder,
		Logger:              log,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(engine, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        log,
		Metrics:       recorder,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("repair shop backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func loggerConfig(cfg config.Config) *logger.Config {
	lc := logger.DefaultConfig()
	if cfg.LogLevel != "" {
		lc.Level = cfg.LogLevel
	}
	if cfg.LogFormat != "" {
		lc.Format = cfg.LogFormat
	}
	if cfg.LogOutput != "" {
		lc.Output = cfg.LogOutput
	}
	return lc
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DefaultBranchID == "" {
		return fmt.Errorf("DEFAULT_BRANCH_ID must be set")
	}
	return nil
}
