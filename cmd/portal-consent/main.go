package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portal-consent/internal/config"
	"portal-consent/internal/consent"
	"portal-consent/internal/database"
	"portal-consent/internal/gateway"
	httpapi "portal-consent/internal/http"
	"portal-consent/internal/logger"
	"portal-consent/internal/mqtt"
	"portal-consent/internal/registry"
	"portal-consent/internal/repository"
	"portal-consent/internal/service"
	"portal-consent/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "portal-consent")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// session cache: Redis when configured, in-process otherwise
	var kv store.KV
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		kv = store.NewRedisKV(redisClient)
		log.Info("Redis session cache enabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		kv = store.NewMemoryKV()
	}

	// data source: remote portal backend when configured, otherwise own
	// repositories (Postgres, with in-memory fallback for local dev)
	var gw gateway.Gateway
	var db *sql.DB
	if cfg.Gateway.BaseURL != "" {
		policy := gateway.DefaultRetryPolicy()
		policy.MaxAttempts = cfg.Gateway.MaxAttempts
		gw = gateway.NewHTTPGateway(cfg.Gateway.BaseURL, policy, log)
		log.Info("Using remote portal gateway", zap.String("base_url", cfg.Gateway.BaseURL))
	} else {
		if cfg.DBEnabled {
			if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
				db = d
				log.Info("DB enabled for portal-consent")
			} else {
				log.Warn("DB enabled but connection failed, falling back to memory repositories", zap.Error(err))
			}
		}
		if db != nil {
			gw = repository.NewLocalGateway(
				repository.NewPostgresConsentsRepository(db),
				repository.NewPostgresOrganizationsRepository(db),
			)
		} else {
			gw = repository.NewLocalGateway(
				repository.NewMemoryConsentsRepository(),
				repository.NewMemoryOrganizationsRepository(nil),
			)
		}
	}

	// the organization forest is loaded once at startup; orgs change by
	// deploy, not at runtime
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	orgs, err := gw.FetchOrganizations(startupCtx)
	startupCancel()
	if err != nil {
		log.Warn("failed to load organizations, starting with an empty registry", zap.Error(err))
	}
	reg := registry.Build(orgs, log)
	log.Info("organization registry built", zap.Int("organizations", reg.Len()))

	var events consent.EventSink
	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = mqtt.NewPublisher(mqtt.Config{
			Enabled:  true,
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		}, log)
		if err != nil {
			log.Warn("MQTT publisher unavailable, consent events disabled", zap.Error(err))
		} else {
			events = publisher
			log.Info("MQTT consent events enabled", zap.String("topic", cfg.MQTT.Topic))
		}
	}

	engine := consent.NewEngine(gw, reg, kv,
		consent.StoreConfig{
			MainStudyID:          cfg.Consent.MainStudyID,
			StockAgreementMarker: cfg.Consent.StockAgreementMarker,
			CacheTTL:             cfg.Consent.CacheTTL,
		},
		consent.ManagerConfig{
			ActorID:             cfg.Consent.ActorID,
			DefaultAgreementURL: cfg.Consent.DefaultAgreementURL,
		},
		events, log)

	// Redis outlives the process; snapshots cached under the previous
	// configuration must not leak into this run
	if cfg.Redis.Enabled {
		invalidateCtx, invalidateCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := engine.InvalidateAllCached(invalidateCtx); err != nil {
			log.Warn("failed to drop cached consent snapshots", zap.Error(err))
		}
		invalidateCancel()
	}

	router := httpapi.NewRouter(log)
	router.RegisterOrganizationRoutes(httpapi.NewOrganizationHandler(reg, log))
	router.RegisterConsentRoutes(httpapi.NewConsentHandler(engine, log))
	router.RegisterHealthRoute()

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if publisher != nil {
		publisher.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
