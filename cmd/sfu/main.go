package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/services"
	"rillnet/internal/infrastructure/eventbus"
	"rillnet/internal/infrastructure/middleware"
	"rillnet/internal/infrastructure/monitoring"
	"rillnet/internal/infrastructure/quality"
	"rillnet/internal/infrastructure/recording"
	signalserver "rillnet/internal/infrastructure/signal"
	"rillnet/internal/infrastructure/turnrelay"
	webrtcinfra "rillnet/internal/infrastructure/webrtc"
	"rillnet/internal/infrastructure/webhook"
	"rillnet/pkg/config"
	"rillnet/pkg/logger"
	"rillnet/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// roomEventAdapter satisfies webrtc.RoomEventSink, forwarding SFU lifecycle
// notifications onto the shared event bus so the webhook dispatcher and the
// metrics subscriber both see them.
type roomEventAdapter struct {
	bus *eventbus.Bus
}

func (a roomEventAdapter) RoomDeleted(roomID string, roomType domain.RoomType) {
	a.bus.Emit(eventbus.RoomDeleted(roomID, string(roomType)))
}

func (a roomEventAdapter) ParticipantLeft(roomID, peerID, role string) {
	a.bus.Emit(eventbus.ParticipantLeft(roomID, peerID, role))
}

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

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	bus := eventbus.New()

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.APIKeys)

	webrtcCfg := webrtcinfra.DefaultConfig()
	webrtcCfg.STUNURLs = cfg.WebRTC.STUNURLs
	webrtcCfg.PortMin = cfg.WebRTC.PortRange.Min
	webrtcCfg.PortMax = cfg.WebRTC.PortRange.Max

	var turnServer *turnrelay.Server
	if cfg.WebRTC.TURN.Embedded {
		turnServer, err = turnrelay.Start(turnrelay.Config{
			Port:     cfg.WebRTC.TURN.Port,
			Realm:    cfg.WebRTC.TURN.Realm,
			Username: cfg.WebRTC.TURN.Username,
			Password: cfg.WebRTC.TURN.Password,
			RelayIP:  cfg.Server.PublicHost,
		}, log)
		if err != nil {
			log.Fatalw("failed to start embedded TURN server", "error", err)
		}
		defer turnServer.Close()

		webrtcCfg.TURNURL = "turn:" + cfg.Server.PublicHost + ":" + strconv.Itoa(cfg.WebRTC.TURN.Port)
		webrtcCfg.TURNUser = cfg.WebRTC.TURN.Username
		webrtcCfg.TURNPass = cfg.WebRTC.TURN.Password
	}

	sfu := webrtcinfra.New(webrtcCfg, log)
	sfu.SetEventSink(roomEventAdapter{bus: bus})

	var recordingManager *recording.Manager
	if cfg.Recording.Enabled {
		recordingManager = recording.NewManager(recording.Config{
			Enabled:        cfg.Recording.Enabled,
			BaseDir:        cfg.Recording.Directory,
			FlushBatchSize: cfg.Recording.FlushBatchSize,
			MaxDuration:    cfg.Recording.MaxDuration,
		}, log)
		sfu.SetRecordingSink(recordingManager)
		defer recordingManager.CloseAll()
	}

	collector := monitoring.NewPrometheusCollector()

	qualityCollector := quality.NewCollector(sfu, bus, cfg.Quality.SampleInterval, log)
	qualityCollector.Metrics = collector

	webhookStore := webhook.NewStore()
	for _, url := range cfg.Webhook.URLs {
		if err := validation.ValidateURL(url); err != nil {
			log.Warnw("skipping invalid webhook URL", "url", url, "error", err)
			continue
		}
		webhookStore.Insert(webhook.Config{
			ID:        webhook.NewID(),
			URL:       url,
			Secret:    cfg.Webhook.Secret,
			Active:    true,
			CreatedAt: time.Now(),
		})
	}
	dispatcher := webhook.NewDispatcher(webhookStore, bus, log)
	dispatcher.Metrics = collector

	metricsSubscriber := monitoring.NewMetricsSubscriber(collector, bus, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go qualityCollector.Run(ctx)
	go metricsSubscriber.Run(ctx)
	if len(cfg.Webhook.URLs) > 0 {
		go dispatcher.Run(ctx)
	}
	go roomGaugeLoop(ctx, sfu, collector, cfg.Monitoring.MetricsInterval)

	sfuHandler := signalserver.NewSFUHandler(sfu, authService, cfg.Auth.AccessTokenTTL, log)

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	router.Use(middleware.ErrorHandlerMiddleware(log))

	sfuHandler.RegisterRoutes(router, middleware.AuthMiddleware(authService))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})
	router.GET("/v1/analytics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"metrics": qualityCollector.Store.List(c.Query("room_id"))})
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting rillnet SFU server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("SFU server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("SFU server shutdown gracefully")
	}

	log.Info("rillnet SFU server stopped")
}

// roomGaugeLoop periodically scrapes the SFU's live room/publisher counts
// into the prometheus gauges, since SFU.RoomEventSink only reports
// deletions and participant departures, not every creation/join.
func roomGaugeLoop(ctx context.Context, sfu *webrtcinfra.SFU, collector *monitoring.PrometheusCollector, interval time.Duration) {
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
			rooms := sfu.Rooms()
			collector.SetRoomsActive(len(rooms))

			byRoom := map[string]int{}
			for _, p := range sfu.PublisherConnections() {
				byRoom[p.RoomID]++
			}
			for _, room := range rooms {
				collector.SetPublisherCount(room.ID, byRoom[room.ID])
			}
		}
	}
}
