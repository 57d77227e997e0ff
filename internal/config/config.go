// Package config assembles runtime configuration from the environment,
// optionally overlaid with a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reservemap/reservemap/internal/overpass"
)

// Duration is a time.Duration that unmarshals from YAML scalars like
// "250ms" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dd, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(dd)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type CacheCfg struct {
	Enabled   bool     `yaml:"enabled"`
	RedisAddr string   `yaml:"redis_addr"`
	TTL       Duration `yaml:"ttl"`
	OpTimeout Duration `yaml:"op_timeout"`
	CellRes   int      `yaml:"cell_res"`
}

type EventsCfg struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`

	SessionTimeout   Duration `yaml:"session_timeout"`
	Heartbeat        Duration `yaml:"heartbeat"`
	RebalanceTimeout Duration `yaml:"rebalance_timeout"`
	InitialOldest    bool     `yaml:"initial_oldest"`
}

type OverpassCfg struct {
	Endpoints []string `yaml:"endpoints"`
	Timeout   Duration `yaml:"timeout"`
	Retries   int      `yaml:"retries"`
	UserAgent string   `yaml:"user_agent"`
}

type QueryCfg struct {
	ScanCap    int `yaml:"scan_cap"`
	MatchCap   int `yaml:"match_cap"`
	FeatureLRU int `yaml:"feature_lru"`
}

type CrawlCfg struct {
	TileKM  float64 `yaml:"tile_km"`
	Workers int     `yaml:"workers"`
}

type Config struct {
	Addr        string `yaml:"addr"`
	LogLevel    string `yaml:"log_level"`
	LogConsole  bool   `yaml:"log_console"`
	DatabaseURL string `yaml:"database_url"`

	Cache    CacheCfg    `yaml:"cache"`
	Events   EventsCfg   `yaml:"events"`
	Overpass OverpassCfg `yaml:"overpass"`
	Query    QueryCfg    `yaml:"query"`
	Crawl    CrawlCfg    `yaml:"crawl"`
}

func FromEnv() Config {
	res := getint("CELL_RES", 8)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:        getenv("ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogConsole:  getbool("LOG_CONSOLE", false),
		DatabaseURL: getenv("DATABASE_URL", "postgres://localhost:5432/reservemap"),
		Cache: CacheCfg{
			Enabled:   getbool("CACHE_ENABLED", true),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			TTL:       getduration("CACHE_TTL", 15*time.Minute),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			CellRes:   res,
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getlist("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getenv("KAFKA_TOPIC", "reserve-updates"),
			GroupID: getenv("KAFKA_GROUP_ID", "reservemap-server"),

			SessionTimeout:   getduration("KAFKA_SESSION_TIMEOUT", 30*time.Second),
			Heartbeat:        getduration("KAFKA_HEARTBEAT", 3*time.Second),
			RebalanceTimeout: getduration("KAFKA_REBALANCE_TIMEOUT", 30*time.Second),
			InitialOldest:    getbool("KAFKA_INITIAL_OLDEST", true),
		},
		Overpass: OverpassCfg{
			Endpoints: getlist("OVERPASS_ENDPOINTS", overpass.DefaultEndpoints()),
			Timeout:   getduration("OVERPASS_TIMEOUT", 180*time.Second),
			Retries:   getint("OVERPASS_RETRIES", 3),
			UserAgent: getenv("OVERPASS_USER_AGENT", "reservemap/1.0"),
		},
		Query: QueryCfg{
			ScanCap:    getint("QUERY_SCAN_CAP", 5000),
			MatchCap:   getint("QUERY_MATCH_CAP", 50),
			FeatureLRU: getint("FEATURE_CACHE_SIZE", 1024),
		},
		Crawl: CrawlCfg{
			TileKM:  getfloat("CRAWL_TILE_KM", 40.0),
			Workers: getint("CRAWL_WORKERS", 4),
		},
	}
}

// Load builds the config from the environment, then overlays the YAML
// file at path when it is non-empty. Fields absent from the file keep
// their environment values.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return Duration(d)
		}
	}
	return Duration(def)
}

func getlist(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
