// The crawler command imports protected areas from the OSM geodata
// mirrors. It splits the requested region into tiles, crawls them with
// a worker pool, records per-tile state so interrupted runs resume,
// and publishes invalidation events for changed tiles.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reservemap/reservemap/internal/config"
	"github.com/reservemap/reservemap/internal/crawl"
	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/invalidate"
	"github.com/reservemap/reservemap/internal/logger"
	"github.com/reservemap/reservemap/internal/metrics"
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/overpass"
	"github.com/reservemap/reservemap/internal/store/postgres"
	"github.com/reservemap/reservemap/internal/tiler"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "optional YAML config file")
		region     = flag.String("region", "", "preset region: "+strings.Join(crawl.RegionNames(), ", "))
		bboxFlag   = flag.String("bbox", "", "crawl area as minLon,minLat,maxLon,maxLat")
		center     = flag.String("center", "", "crawl around lon,lat (with -radius-km)")
		radiusKM   = flag.Float64("radius-km", 10, "half-size of the box around -center")
		tileKM     = flag.Float64("tile-km", 0, "tile edge in km (0 uses config)")
		resume     = flag.Bool("resume", false, "skip tiles that already succeeded")
		minAge     = flag.Duration("min-age", 0, "skip tiles crawled more recently than this")
		workers    = flag.Int("workers", 0, "concurrent tiles (0 uses config)")
		endpoints  = flag.String("endpoints", "", "comma-separated mirror URLs overriding config")
		timeout    = flag.Duration("timeout", 0, "per-query server-side budget (0 uses config)")
		retries    = flag.Int("retries", 0, "fetch attempts per tile (0 uses config)")
		clear      = flag.Bool("clear", false, "delete existing OSM records before crawling")
		probe      = flag.Bool("probe", false, "check every mirror and exit")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *endpoints != "" {
		cfg.Overpass.Endpoints = splitList(*endpoints)
	}
	if *timeout > 0 {
		cfg.Overpass.Timeout = config.Duration(*timeout)
	}
	if *retries > 0 {
		cfg.Overpass.Retries = *retries
	}

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "crawler",
	}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := metrics.Init(metrics.BuildInfo{Version: Version})

	client := overpass.New(overpass.Options{
		Endpoints: cfg.Overpass.Endpoints,
		Timeout:   cfg.Overpass.Timeout.Std(),
		Retries:   cfg.Overpass.Retries,
		UserAgent: cfg.Overpass.UserAgent,
		Logger:    &log,
		Register:  provider.Registerer(),
	})

	if *probe {
		return runProbe(ctx, client)
	}

	bbox, err := resolveBBox(*region, *bboxFlag, *center, *radiusKM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		return 2
	}

	st, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("store connect failed")
		return 1
	}
	defer st.Close()

	if *clear {
		n, err := st.ClearSource(ctx, model.SourceOSM)
		if err != nil {
			log.Error().Err(err).Msg("clear failed")
			return 1
		}
		log.Info().Int64("deleted", n).Msg("cleared previous OSM records")
	}

	opts := crawl.Options{
		Fetcher:  client,
		Store:    st,
		Logger:   log,
		Register: provider.Registerer(),
	}
	if cfg.Events.Enabled {
		producer, err := invalidate.NewProducer(invalidate.ProducerConfig{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
			Source:  model.SourceOSM,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("event producer setup failed")
			return 1
		}
		defer func() { _ = producer.Close() }()
		opts.Notifier = producer
	}

	runCfg := crawl.Config{
		BBox:    bbox,
		TileKM:  cfg.Crawl.TileKM,
		Resume:  *resume,
		MinAge:  *minAge,
		Filters: overpass.DefaultFilters(),
		Timeout: cfg.Overpass.Timeout.Std(),
		Workers: cfg.Crawl.Workers,
	}
	if *tileKM > 0 {
		runCfg.TileKM = *tileKM
	}
	if *workers > 0 {
		runCfg.Workers = *workers
	}

	summary, err := crawl.New(opts).Run(ctx, runCfg)
	printJSON(summary)
	if err != nil {
		log.Error().Err(err).Msg("crawl aborted")
		return 1
	}
	if summary.Failed > 0 {
		log.Warn().Int("failed", summary.Failed).Msg("crawl finished with failed tiles")
		return 1
	}
	log.Info().Int("created", summary.Created).Int("updated", summary.Updated).Msg("crawl finished")
	return 0
}

// resolveBBox picks the crawl area from whichever flag was given, in
// priority order: explicit bbox, preset region, center plus radius.
func resolveBBox(region, bbox, center string, radiusKM float64) (geo.BBox, error) {
	switch {
	case bbox != "":
		b, err := geo.ParseBBox(bbox)
		if err != nil {
			return geo.BBox{}, fmt.Errorf("-bbox: %w", err)
		}
		return b, nil
	case region != "":
		b, ok := crawl.Regions[region]
		if !ok {
			return geo.BBox{}, fmt.Errorf("unknown region %q", region)
		}
		return b, nil
	case center != "":
		parts := strings.Split(center, ",")
		if len(parts) != 2 {
			return geo.BBox{}, fmt.Errorf("-center wants lon,lat, got %q", center)
		}
		lon, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lat, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return geo.BBox{}, fmt.Errorf("-center wants lon,lat, got %q", center)
		}
		if radiusKM <= 0 {
			return geo.BBox{}, fmt.Errorf("-radius-km must be positive")
		}
		return tiler.Around(geo.Point{Lon: lon, Lat: lat}, 2*radiusKM), nil
	default:
		return geo.BBox{}, fmt.Errorf("one of -region, -bbox, or -center is required")
	}
}

func runProbe(ctx context.Context, client *overpass.Client) int {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	results := client.Probe(ctx)
	printJSON(results)
	for _, r := range results {
		if r.OK {
			return 0
		}
	}
	return 1
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(b))
}
