package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/services"
	httphandlers "pairlink/internal/handlers/http"
	"pairlink/internal/infrastructure/middleware"
	"pairlink/internal/infrastructure/monitoring"
	repositories "pairlink/internal/infrastructure/repositories"
	signalinfra "pairlink/internal/infrastructure/signal"
	webrtcinfra "pairlink/internal/infrastructure/webrtc"
	"pairlink/pkg/config"
	"pairlink/pkg/logger"
	"pairlink/pkg/schedule"
	"pairlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/pairlink/config.yaml",
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

	// Tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracerProvider.Shutdown(ctx)
	}()

	// Repositories
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	metricsRepo := repoFactory.CreateMetricsRepository()

	// Monitoring
	var observer services.TelemetryObserver
	if cfg.Monitoring.PrometheusEnabled {
		observer = monitoring.NewPrometheusCollector()
	}

	// Core services
	scheduler := schedule.NewScheduler()
	defer scheduler.Close()

	locks := services.NewSequenceLockManager(scheduler, log)
	controller := services.NewTimeoutController(scheduler, locks, log)

	iceOpts := services.ICEConfigOptions{
		ConfigTTL:        cfg.ICE.ConfigTTL,
		CredentialTTL:    cfg.ICE.CredentialTTL,
		ReuseThreshold:   cfg.ICE.ReuseThreshold,
		EvictThreshold:   cfg.ICE.EvictThreshold,
		SuccessRateAlpha: cfg.ICE.SuccessRateAlpha,
	}
	for _, s := range cfg.ICE.RelayServers {
		iceOpts.RelayServers = append(iceOpts.RelayServers, services.RelaySource{
			ID:       s.ID,
			URLs:     s.URLs,
			Priority: s.Priority,
		})
	}
	for _, s := range cfg.ICE.ReflexiveServers {
		iceOpts.ReflexiveServers = append(iceOpts.ReflexiveServers, services.ReflexiveSource{URLs: s.URLs})
	}
	iceManager := services.NewICEConfigManager(iceOpts, log)

	telemetry := services.NewTelemetryCollector(services.TelemetryOptions{
		TargetMs:             cfg.Telemetry.TargetMs,
		DiscoveryWarnMs:      cfg.Telemetry.DiscoveryWarnMs,
		FirstCandidateWarnMs: cfg.Telemetry.FirstCandidateWarnMs,
		HistorySize:          cfg.Telemetry.HistorySize,
		AlertBuffer:          cfg.Telemetry.AlertBuffer,
	}, metricsRepo, observer, log)

	// Infrastructure
	engineCfg := webrtcinfra.EngineConfig{}
	engineCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	engineCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	engine := webrtcinfra.NewEngine(engineCfg, nil, log)

	media := webrtcinfra.NewSyntheticMediaDevice(log)

	sequencer := services.NewConnectionSequencer(locks, engine, media, telemetry, 30*time.Second, log)

	signaling := signalinfra.NewWebSocketClient(signalinfra.ClientConfig{
		URL:               cfg.Signaling.URL,
		TokenSecret:       cfg.Signaling.TokenSecret,
		TokenTTL:          cfg.Signaling.TokenTTL,
		PingInterval:      cfg.Signaling.PingInterval,
		PongTimeout:       cfg.Signaling.PongTimeout,
		WriteTimeout:      cfg.Signaling.WriteTimeout,
		MessagesPerSecond: cfg.Signaling.MessagesPerSecond,
		Burst:             cfg.Signaling.Burst,
	}, log)

	orchestrator := services.NewSessionOrchestrator(
		domain.SessionID("local"),
		domain.UserID("local"),
		locks,
		controller,
		iceManager,
		sequencer,
		telemetry,
		signaling,
		log,
	)

	qualityMonitor := webrtcinfra.NewQualityMonitor(func(report webrtcinfra.QualityReport) {
		log.Debugw("link quality sample",
			"packet_loss", report.PacketLoss,
			"jitter", report.Jitter,
			"rtt", report.RTT,
			"nacks", report.NackCount,
		)
	}, log)
	orchestrator.SetQualityWatcher(qualityMonitor)

	// HTTP surface
	statsHandler := httphandlers.NewStatsHandler(telemetry, iceManager, metricsRepo, orchestrator)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	statsHandler.SetupRoutes(router)

	// Background health checks
	healthCtx, healthCancel := context.WithCancel(context.Background())
	defer healthCancel()

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.Register("repository", repoFactory.Healthy, 30*time.Second, 5*time.Second)
	healthChecker.Run(healthCtx)

	router.GET("/healthz", func(c *gin.Context) {
		report := healthChecker.Report()
		code := 200
		if report.Status != "healthy" {
			code = 503
		}
		c.JSON(code, report)
	})

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ready",
			"uptime": time.Since(startTime).String(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting pairlink orchestrator on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down pairlink orchestrator...")

	orchestrator.StopConnection()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	log.Info("pairlink orchestrator stopped")
}
