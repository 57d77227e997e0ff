// The server command runs the read API: reserve listings, point
// queries, operators, health, and metrics, backed by Postgres with an
// optional Redis candidate cache kept fresh by Kafka invalidation
// events.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/reservemap/reservemap/internal/config"
	"github.com/reservemap/reservemap/internal/invalidate"
	"github.com/reservemap/reservemap/internal/logger"
	"github.com/reservemap/reservemap/internal/metrics"
	"github.com/reservemap/reservemap/internal/query"
	"github.com/reservemap/reservemap/internal/server"
	"github.com/reservemap/reservemap/internal/store/postgres"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "optional YAML config file")
	addr := flag.String("addr", "", "listen address override")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "server",
	}, os.Stdout)
	log.Info().Str("addr", cfg.Addr).Str("version", Version).Msg("starting server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := metrics.Init(metrics.BuildInfo{Version: Version})

	st, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("store connect failed")
		return 1
	}
	defer st.Close()

	var cache *query.CellCache
	if cfg.Cache.Enabled {
		cache, err = query.NewCellCache(ctx, cfg.Cache.RedisAddr,
			query.WithReadTimeout(cfg.Cache.OpTimeout.Std()),
			query.WithWriteTimeout(cfg.Cache.OpTimeout.Std()))
		if err != nil {
			log.Error().Err(err).Msg("redis connect failed")
			return 1
		}
		defer func() { _ = cache.Close() }()
	}

	engine, err := query.New(query.Options{
		Store:    st,
		Cache:    cache,
		Logger:   log,
		Register: provider.Registerer(),
		Config: query.Config{
			Resolution:   cfg.Cache.CellRes,
			CacheTTL:     cfg.Cache.TTL.Std(),
			ScanCap:      cfg.Query.ScanCap,
			MatchCap:     cfg.Query.MatchCap,
			FeatureCache: cfg.Query.FeatureLRU,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("query engine setup failed")
		return 1
	}

	var ready server.ReadyChecker
	if cfg.Events.Enabled && cfg.Cache.Enabled {
		runner := invalidate.NewRunner(invalidate.RunnerConfig{
			Brokers:          cfg.Events.Brokers,
			Topic:            cfg.Events.Topic,
			GroupID:          cfg.Events.GroupID,
			SessionTimeout:   cfg.Events.SessionTimeout.Std(),
			Heartbeat:        cfg.Events.Heartbeat.Std(),
			RebalanceTimeout: cfg.Events.RebalanceTimeout.Std(),
			InitialOldest:    cfg.Events.InitialOldest,
			Resolution:       cfg.Cache.CellRes,
		}, cache, invalidate.RunnerOptions{
			Logger:   log,
			Register: provider.Registerer(),
		})
		if err := runner.Start(ctx); err != nil {
			log.Error().Err(err).Msg("invalidation runner start failed")
			return 1
		}
		defer runner.Stop()
		ready = runner
	}

	srv, err := server.New(server.Options{
		Addr:     cfg.Addr,
		Store:    st,
		Engine:   engine,
		Ready:    ready,
		Metrics:  provider.Handler(),
		Logger:   log,
		Register: provider.Registerer(),
	})
	if err != nil {
		log.Error().Err(err).Msg("server setup failed")
		return 1
	}

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		return 1
	}
	log.Info().Msg("server stopped")
	return 0
}
