package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dlobflow/cache"
	"dlobflow/config"
	"dlobflow/fetcher"
	"dlobflow/health"
	"dlobflow/logger"
	"dlobflow/models"
	"dlobflow/recorder"
	"dlobflow/scheduler"
	"dlobflow/session"
	"dlobflow/stream"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	marketsPath := flag.String("markets", "", "Path to market overlay file")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Dlobflow.Name,
		"version": cfg.Dlobflow.Version,
	}).Info("starting dlobflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		interval := cfg.Logging.ReportInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		logger.StartReport(ctx, log, interval)
	}
	if cfg.Logging.DashboardName != "" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Dlobflow.Name, cfg.Logging.DashboardName)
	}

	markets := cfg.Markets
	if overlayPath := config.ResolveOverlayPath(*marketsPath); overlayPath != "" {
		if overlay, err := config.LoadMarketOverlay(overlayPath); err == nil {
			markets = overlay.Merge(markets)
		} else if *marketsPath != "" {
			log.WithError(err).Error("failed to load market overlay")
			os.Exit(1)
		}
	}

	tiers := make([]session.TierConfig, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers = append(tiers, session.TierConfig{ID: t.ID, Multiplier: t.Multiplier, Depth: t.Depth})
	}

	sess := session.New(session.Config{
		ServerHTTPURL:   cfg.Server.HTTPURL,
		ServerWSURL:     cfg.Server.WSURL,
		InitialStrategy: health.Strategy(cfg.Server.InitialStrategy),
		Tiers:           tiers,
		Scheduler: scheduler.Config{
			BaseTick:             cfg.Polling.BaseTick,
			MaxConsecutiveEmpty:  cfg.Polling.MaxConsecutiveEmpty,
			MaxConsecutiveErrors: cfg.Polling.MaxConsecutiveErrors,
		},
		Stream: stream.Config{
			MaxReconnectDelay:    cfg.Streaming.MaxReconnectDelay,
			MinReconnectDelay:    cfg.Streaming.MinReconnectDelay,
			MaxReconnectAttempts: cfg.Streaming.MaxReconnectAttempts,
			FirstMessageTimeout:  cfg.Streaming.FirstMessageTimeout,
			MessageTimeout:       cfg.Streaming.MessageTimeout,
			TeardownGrace:        cfg.Streaming.TeardownGrace,
		},
		Health: health.Config{
			WindowSize: cfg.Health.WindowSize,
			MinSamples: cfg.Health.MinSamples,
			MinSuccess: cfg.Health.MinSuccess,
		},
		Fetch: fetcher.Options{
			BaseURL:           cfg.Server.HTTPURL,
			IncludeVamm:       cfg.Polling.IncludeVamm,
			IncludePhoenix:    cfg.Polling.IncludePhoenix,
			IncludeSerum:      cfg.Polling.IncludeSerum,
			IncludeOracle:     cfg.Polling.IncludeOracle,
			RequestsPerSecond: cfg.Polling.RequestsPerSecond,
			BurstSize:         cfg.Polling.BurstSize,
			Timeout:           cfg.Polling.Timeout,
		},
	}, session.ChainDeps{})

	var snapshotCache *cache.Cache
	if cfg.Cache.Enabled {
		policy, err := cache.ParseWritePolicy(cfg.Cache.WritePolicy)
		if err != nil {
			log.WithError(err).Error("invalid cache write policy")
			os.Exit(1)
		}
		snapshotCache = cache.New(cache.Config{
			Addr:      cfg.Cache.Addr,
			Password:  cfg.Cache.Password,
			DB:        cfg.Cache.DB,
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Cache.TTL,
			Policy:    policy,
		})
		if err := snapshotCache.Ping(ctx); err != nil {
			log.WithError(err).Error("failed to reach redis")
			os.Exit(1)
		}
		store := sess.Store()
		store.OnChange(func(id models.MarketId) {
			snap := store.StateForMarket(id)
			oracle := store.OracleForMarket(id)
			if err := snapshotCache.WriteSnapshot(ctx, id, snap, &oracle); err != nil {
				log.WithComponent("main").WithError(err).Warn("cache write failed")
			}
		})
	} else {
		log.WithComponent("main").Info("cache disabled; skipping redis wiring")
	}

	var rec *recorder.Recorder
	if cfg.Storage.Recorder.Enabled {
		rec, err = recorder.New(recorder.Config{
			Bucket:          cfg.Storage.S3.Bucket,
			Region:          cfg.Storage.S3.Region,
			Endpoint:        cfg.Storage.S3.Endpoint,
			PathStyle:       cfg.Storage.S3.PathStyle,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			BatchSize:       cfg.Storage.Recorder.BatchSize,
			FlushInterval:   cfg.Storage.Recorder.FlushInterval,
			Compression:     cfg.Storage.Recorder.Compression,
			Version:         cfg.Dlobflow.Version,
		}, sess.Store())
		if err != nil {
			log.WithError(err).Error("failed to create recorder")
			os.Exit(1)
		}
		rec.Attach()
		if err := rec.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start recorder")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("recorder disabled; skipping archival")
	}

	if err := sess.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start session")
		os.Exit(1)
	}

	for _, m := range markets {
		id := models.MarketId{MarketIndex: m.Index, MarketType: models.MarketType(m.Type)}
		if err := sess.TrackMarket(id, m.Tier); err != nil {
			log.WithError(err).WithFields(logger.Fields{"market": id.Key()}).Error("failed to track market")
			os.Exit(1)
		}
	}

	log.WithFields(logger.Fields{
		"markets":  len(markets),
		"strategy": string(sess.Strategy()),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping session")
	sess.Stop()

	if rec != nil {
		log.Info("stopping recorder")
		rec.Stop()
	}

	log.Info("dlobflow stopped")
}
