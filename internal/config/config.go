// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/freshness"
)

// Config is the top-level configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Freshness   FreshnessConfig   `yaml:"freshness"`
	Hydrate     HydrateConfig     `yaml:"hydrate"`
	Interceptor InterceptorConfig `yaml:"interceptor"`
	Images      ImagesConfig      `yaml:"images"`
	Workers     WorkersConfig     `yaml:"workers"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AdminToken      string        `yaml:"admin_token"` // bearer token for /admin, "" = open
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// UpstreamConfig describes the card catalog API.
type UpstreamConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"` // sent as X-Api-Key when set
	Timeout    time.Duration `yaml:"timeout"`
	PageSize   int           `yaml:"page_size"` // search results per page
	RPS        float64       `yaml:"rps"`       // 0 = unlimited
	DNSCache   bool          `yaml:"dns_cache"`
	DNSRefresh time.Duration `yaml:"dns_refresh"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig controls the per-host breaker below the interceptor.
type CircuitBreakerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ErrorThreshold float64       `yaml:"error_threshold"` // weighted error rate, 0.0 to 1.0
	MinSamples     int           `yaml:"min_samples"`
	WindowSeconds  int           `yaml:"window_seconds"` // capped at 60
	OpenTimeout    time.Duration `yaml:"open_timeout"`
}

// FreshnessConfig holds per-category TTLs. Zero means the built-in default.
type FreshnessConfig struct {
	Search       time.Duration `yaml:"search"`
	SetList      time.Duration `yaml:"set_list"`
	RandomPick   time.Duration `yaml:"random_pick"`
	SingleEntity time.Duration `yaml:"single_entity"`
}

// Rules converts the configured TTLs into a freshness table, skipping unset
// categories so the policy defaults apply.
func (f FreshnessConfig) Rules() freshness.Rules {
	rules := freshness.Rules{}
	set := func(c tcgcache.Category, d time.Duration) {
		if d > 0 {
			rules[c] = d
		}
	}
	set(tcgcache.CategorySearch, f.Search)
	set(tcgcache.CategorySetList, f.SetList)
	set(tcgcache.CategoryRandomPick, f.RandomPick)
	set(tcgcache.CategorySingleEntity, f.SingleEntity)
	return rules
}

// HydrateConfig controls background list hydration.
type HydrateConfig struct {
	Concurrency int `yaml:"concurrency"` // parallel remainder pages
	PageSize    int `yaml:"page_size"`
}

// InterceptorConfig controls the caching transport in front of the upstream.
type InterceptorConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Version         int      `yaml:"version"`
	Origin          string   `yaml:"origin"`           // base for relative manifest entries
	Manifest        []string `yaml:"manifest"`         // absolute URLs or paths under Origin
	OfflineDocument string   `yaml:"offline_document"` // manifest entry served to failed navigations
	CacheStatic     bool     `yaml:"cache_static"`
}

// ManifestURLs resolves manifest entries against Origin. Entries that cannot
// be resolved are skipped with a warning.
func (ic InterceptorConfig) ManifestURLs() []string {
	out := make([]string, 0, len(ic.Manifest))
	for _, m := range ic.Manifest {
		if u, ok := ic.resolve(m); ok {
			out = append(out, u)
		}
	}
	return out
}

// OfflineDocumentURL resolves OfflineDocument against Origin.
func (ic InterceptorConfig) OfflineDocumentURL() string {
	if ic.OfflineDocument == "" {
		return ""
	}
	u, _ := ic.resolve(ic.OfflineDocument)
	return u
}

func (ic InterceptorConfig) resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	r, err := url.Parse(ref)
	if err != nil {
		slog.Warn("invalid manifest entry", "entry", ref, "error", err)
		return "", false
	}
	if r.IsAbs() {
		return r.String(), true
	}
	base, err := url.Parse(ic.Origin)
	if err != nil || !base.IsAbs() {
		slog.Warn("relative manifest entry without origin", "entry", ref)
		return "", false
	}
	return base.ResolveReference(r).String(), true
}

// ImagesConfig restricts which hosts card images may be fetched from.
type ImagesConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts"`
}

// WorkersConfig holds background worker settings.
type WorkersConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepAge      time.Duration `yaml:"sweep_age"` // 0 = 4x the longest TTL
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// LogConfig controls the default slog handler.
type LogConfig struct {
	Format string `yaml:"format"` // "json" or "text"
	Level  string `yaml:"level"`  // debug, info, warn, error
}

// SlogLevel parses Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "tcgcache.db",
		},
		Upstream: UpstreamConfig{
			BaseURL:    "https://api.pokemontcg.io/v2",
			Timeout:    10 * time.Second,
			PageSize:   12,
			DNSCache:   true,
			DNSRefresh: 5 * time.Minute,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:        true,
				ErrorThreshold: 0.30,
				MinSamples:     10,
				WindowSeconds:  60,
				OpenTimeout:    30 * time.Second,
			},
		},
		Hydrate: HydrateConfig{
			Concurrency: 6,
			PageSize:    250,
		},
		Interceptor: InterceptorConfig{
			Enabled: true,
			Version: 1,
		},
		Images: ImagesConfig{
			AllowedHosts: []string{"images.pokemontcg.io", "assets.pokemon.com"},
		},
		Workers: WorkersConfig{
			SweepInterval: time.Hour,
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
			Tracing: TracingConfig{SampleRate: 1.0},
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
