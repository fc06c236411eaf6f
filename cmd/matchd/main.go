package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rillnet/internal/core/services"
	"rillnet/internal/infrastructure/eventbus"
	"rillnet/internal/infrastructure/matching"
	"rillnet/internal/infrastructure/monitoring"
	"rillnet/internal/infrastructure/repositories/redis"
	signalserver "rillnet/internal/infrastructure/signal"
	"rillnet/pkg/config"
	"rillnet/pkg/distributed"
	"rillnet/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/root/configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	redisClient, err := redis.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
	if err != nil {
		log.Fatalw("failed to connect to Redis", "error", err)
	}
	defer redis.CloseRedisClient(redisClient)

	bus := eventbus.New()
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.APIKeys)

	lockManager := distributed.NewLockManager(redisClient, "rillnet:match-lock:")

	engine := &matching.Engine{
		Queue:       matching.NewRedisQueue(redisClient),
		Cooldowns:   matching.NewRedisCooldowns(redisClient),
		History:     matching.NewRedisHistory(redisClient),
		ActivePairs: matching.NewRedisActivePairs(redisClient),
		Sessions:    matching.NewRedisSessions(redisClient, cfg.Matching.SessionTTL),
		Locker:      matching.NewUserLocker(lockManager, cfg.Matching.MatchLockTTL),
		Bus:         bus,
		CooldownTTL: cfg.Matching.CooldownTTL,
		Logger:      log,
	}

	collector := monitoring.NewPrometheusCollector()
	metricsSubscriber := monitoring.NewMetricsSubscriber(collector, bus, log)

	matchingServer := signalserver.NewMatchingServer(engine, authService, log)
	matchingServer.Metrics = collector

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go metricsSubscriber.Run(ctx)
	go queueGaugeLoop(ctx, engine, collector, cfg.Monitoring.MetricsInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", matchingServer.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: mux,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting rillnet matchd server on %s", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("matchd server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("matchd server shutdown gracefully")
	}

	log.Info("rillnet matchd server stopped")
}

// queueGaugeLoop periodically scrapes the matching queue's size into the
// prometheus gauge, since Engine.Join/Leave don't carry a metrics hook of
// their own.
func queueGaugeLoop(ctx context.Context, engine *matching.Engine, collector *monitoring.PrometheusCollector, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.Queue.Size(ctx)
			if err != nil {
				continue
			}
			collector.SetMatchQueueSize(n)
		}
	}
}
