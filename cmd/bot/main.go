package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"emias_bot/internal/config"
	"emias_bot/internal/emias"
	"emias_bot/internal/feature/digest"
	"emias_bot/internal/feature/navigation"
	"emias_bot/internal/feature/profile"
	"emias_bot/internal/health"
	"emias_bot/internal/logging"
	"emias_bot/internal/metrics"
	"emias_bot/internal/scheduler"
	"emias_bot/internal/session"
	"emias_bot/internal/store"
	"emias_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	redisConnectTimeout     = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured mongo indexes")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	botMetrics := metrics.NewBotMetrics(registry)

	healthOpts := []health.Option{
		health.WithChecker("mongo", mongoManager),
		health.WithMetrics(registry),
	}

	var (
		sessions    session.Store = session.NewMemoryStore()
		redisClient *redis.Client
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCtx, cancelRedis := context.WithTimeout(context.Background(), redisConnectTimeout)
		redisClient, err = session.NewRedisClient(redisCtx, cfg.RedisURL)
		cancelRedis()
		if err != nil {
			logger.WithError(err).Error("redis connection error")
			fmt.Fprintf(os.Stderr, "redis connection error: %v\n", err)
			os.Exit(1)
		}

		redisStore := session.NewRedisStore(redisClient, cfg.SessionTTL)
		sessions = redisStore
		healthOpts = append(healthOpts, health.WithChecker("redis", redisStore))
		logger.WithField("event", "redis_connect").Info("connected to redis; sessions are shared")
	} else {
		logger.WithField("event", "session_memory").Info("REDIS_URL not set; sessions are process-local")
	}

	records := mongoManager.RecordRepository()
	statsProvider := mongoManager.Stats()

	apiClient := emias.NewClient(cfg.EmiasAPIURL, cfg.APITimeout, logger, emias.WithObserver(botMetrics))
	digestBuilder := digest.NewBuilder(apiClient, 0, logger)

	profileService := profile.NewService(records, statsProvider, cfg.BotOwnerID, logger)
	navigationService := navigation.NewService(records, apiClient, sessions, botMetrics, logger)

	tgClient, err := telegram.NewClient(cfg, logger,
		telegram.WithProfile(profileService),
		telegram.WithNavigator(navigationService),
		telegram.WithUpdateObserver(botMetrics),
	)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	poller := scheduler.NewPoller(records, digestBuilder, tgClient, logger,
		scheduler.WithInterval(cfg.PollInterval),
		scheduler.WithWorkers(cfg.PollWorkers),
		scheduler.WithUserTimeout(cfg.PollUserTimeout),
		scheduler.WithStats(statsProvider),
		scheduler.WithMetrics(botMetrics),
	)
	tgClient.SetDigestSender(poller)

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	healthServer := health.NewServer(cfg.HTTPPort, logger, healthOpts...)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(context.Background())
	tgDone := make(chan struct{})
	pollDone := make(chan struct{})

	go func() {
		tgClient.Start(runCtx)
		close(tgDone)
	}()

	go func() {
		logger.WithFields(logging.Fields{
			"event":    "scheduler_start",
			"interval": cfg.PollInterval.String(),
			"workers":  cfg.PollWorkers,
		}).Info("starting referral scheduler")
		poller.Run(runCtx)
		close(pollDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling and scheduler")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelRun()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	for _, done := range []chan struct{}{tgDone, pollDone} {
		select {
		case <-done:
		case <-waitCtx.Done():
			logger.WithField("event", "shutdown_timeout").Warn("timed out waiting for background loops to stop")
		}
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Error("redis close error")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
