package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sta-timeseries/common/database"
	"sta-timeseries/common/logger"
	commonmqtt "sta-timeseries/common/mqtt"
	commonredis "sta-timeseries/common/redis"
	"sta-timeseries/internal/config"
	httpapi "sta-timeseries/internal/http"
	"sta-timeseries/internal/metrics"
	catalogmqtt "sta-timeseries/internal/mqtt"
	"sta-timeseries/internal/repository"
	"sta-timeseries/internal/service"
	"sta-timeseries/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "sta-timeseries")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("sta-timeseries exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", zap.Error(err))
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := database.NewPostgresDB(connectCtx, &cfg.Database)
	cancel()
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("Connected to PostgreSQL",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	// Shared catalog cache tier; the in-process cache works without it.
	var kv store.KV
	if cfg.Redis.Enabled {
		redisClient := commonredis.NewRedisClient(&cfg.Redis.RedisConfig)
		if err := commonredis.Ping(ctx, redisClient); err != nil {
			log.Warn("Redis enabled but unreachable, using in-process catalog cache only", zap.Error(err))
			_ = commonredis.Close(redisClient)
		} else {
			defer commonredis.Close(redisClient)
			kv = store.NewRedisKV(redisClient, cfg.Redis.KeyPrefix)
			log.Info("Redis catalog cache enabled",
				zap.String("addr", cfg.Redis.Addr),
				zap.String("key_prefix", cfg.Redis.KeyPrefix),
			)
		}
	}

	datastreamsRepo := repository.NewDatastreamsRepository(db, log)
	hypertablesRepo := repository.NewHypertablesRepository(db, log)

	cache := service.NewDatastreamCache(datastreamsRepo, kv, cfg.Cache.TTL, m, log)
	if err := cache.Refresh(ctx); err != nil {
		log.Warn("Initial catalog load failed, loading lazily", zap.Error(err))
	}

	router := service.NewStorageRouter(cache, log)
	assembler := service.NewAssembler(cfg.ServiceURL)
	observations := service.NewObservationService(cache, router, hypertablesRepo, assembler, m, log)
	expander := service.NewExpansionResolver(cache, observations, router, assembler, log)
	upstream := service.NewUpstreamClient(service.UpstreamConfig{
		BaseURL:    cfg.Upstream.BaseURL,
		GetURL:     cfg.Upstream.GetURL,
		ServiceURL: cfg.ServiceURL,
		Credentials: service.Credentials{
			Username: cfg.Upstream.Username,
			Password: cfg.Upstream.Password,
		},
		Timeout:         cfg.Upstream.Timeout,
		BreakerFailures: cfg.Upstream.BreakerFailures,
		BreakerCooldown: cfg.Upstream.BreakerCooldown,
	}, m, log)

	sta := httpapi.NewSTAHandler(observations, upstream, expander, cfg.ServiceRoot, cfg.ServiceURL, log)

	var admin *httpapi.AdminHandler
	if cfg.Admin.Enabled {
		integrity := service.NewIntegrityService(cache, repository.NewIntegrityRepository(db, log), log)
		admin = httpapi.NewAdminHandler(integrity, cache, log)
	}

	handler := httpapi.NewRouter(httpapi.RouterConfig{
		ServiceRoot:    cfg.ServiceRoot,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Metrics:        m,
		Gatherer:       reg,
	}, sta, admin, log)

	if cfg.MQTT.Enabled {
		client, err := commonmqtt.NewClient(&cfg.MQTT.MQTTConfig, log)
		if err != nil {
			log.Warn("MQTT enabled but connection failed, catalog changes rely on cache TTL", zap.Error(err))
		} else {
			defer client.Disconnect()
			listener := catalogmqtt.NewCatalogListener(cache, log)
			if err := listener.Start(client, cfg.MQTT.Topic, cfg.MQTT.QoS); err != nil {
				log.Warn("Failed to subscribe to catalog changes", zap.Error(err))
			}
		}
	}

	srv := service.NewServer(cfg.HTTP.Addr, handler, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down sta-timeseries")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
