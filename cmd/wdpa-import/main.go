// The wdpa-import command loads Protected Planet shapefile archives
// into the store. Pass one or more downloaded zip archives; each is
// expected to contain a polygon layer and optionally a point layer.
package main

import (
	"context"
	"encoding/json"
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
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/store/postgres"
	"github.com/reservemap/reservemap/internal/wdpa"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath    = flag.String("config", "", "optional YAML config file")
		country       = flag.String("country", "", "keep only records with this ISO3 code")
		includePoints = flag.Bool("include-points", false, "also import the point layer")
		batch         = flag.Int("batch", 0, "progress log interval in rows")
		dryRun        = flag.Bool("dry-run", false, "parse and classify without writing")
	)
	flag.Parse()

	archives := flag.Args()
	if len(archives) == 0 {
		fmt.Fprintln(os.Stderr, "usage: wdpa-import [flags] archive.zip ...")
		flag.Usage()
		return 2
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "wdpa-import",
	}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := metrics.Init(metrics.BuildInfo{Version: Version})

	st, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("store connect failed")
		return 1
	}
	defer st.Close()

	opts := wdpa.Options{
		Store:    st,
		Logger:   log,
		Register: provider.Registerer(),
	}
	if cfg.Events.Enabled && !*dryRun {
		producer, err := invalidate.NewProducer(invalidate.ProducerConfig{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
			Source:  model.SourceWDPA,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("event producer setup failed")
			return 1
		}
		defer func() { _ = producer.Close() }()
		opts.Notifier = producer
	}

	sum, err := wdpa.New(opts).Run(ctx, wdpa.Config{
		Archives:      archives,
		Country:       *country,
		IncludePoints: *includePoints,
		BatchSize:     *batch,
		DryRun:        *dryRun,
	})

	if b, jerr := json.MarshalIndent(sum, "", "  "); jerr == nil {
		fmt.Println(string(b))
	}
	if err != nil {
		log.Error().Err(err).Msg("import aborted")
		return 1
	}
	if sum.Errors > 0 {
		log.Warn().Int("errors", sum.Errors).Msg("import finished with row errors")
		return 1
	}
	return 0
}
