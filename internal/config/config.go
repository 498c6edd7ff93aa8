// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser/headless"
	"github.com/JakeFAU/shopfinder-crawler/internal/browser/static"
	"github.com/JakeFAU/shopfinder-crawler/internal/converge"
	"github.com/JakeFAU/shopfinder-crawler/internal/extract"
	"github.com/JakeFAU/shopfinder-crawler/internal/input"
	"github.com/JakeFAU/shopfinder-crawler/internal/locator"
	"github.com/JakeFAU/shopfinder-crawler/internal/logging"
	"github.com/JakeFAU/shopfinder-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/shopfinder-crawler/internal/server"
	"github.com/JakeFAU/shopfinder-crawler/internal/session"
	"github.com/JakeFAU/shopfinder-crawler/internal/sink/gcs"
	"github.com/JakeFAU/shopfinder-crawler/internal/sink/jsonl"
	"github.com/JakeFAU/shopfinder-crawler/internal/sink/postgres"
	"github.com/JakeFAU/shopfinder-crawler/internal/sink/pubsub"
	"github.com/JakeFAU/shopfinder-crawler/internal/sink/redis"
)

// EnvPrefix prefixes every environment override, e.g. SHOPFINDER_SEARCH_RADIUS_KM.
const EnvPrefix = "SHOPFINDER"

// Detail page drivers.
const (
	DetailModeBrowser = "browser"
	DetailModeStatic  = "static"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site        SiteConfig          `mapstructure:"site"`
	Search      SearchConfig        `mapstructure:"search"`
	Convergence ConvergenceConfig   `mapstructure:"convergence"`
	Detail      DetailConfig        `mapstructure:"detail"`
	Browser     BrowserConfig       `mapstructure:"browser"`
	Input       InputConfig         `mapstructure:"input"`
	Run         RunConfig           `mapstructure:"run"`
	Output      OutputConfig        `mapstructure:"output"`
	Logging     logging.Config      `mapstructure:"logging"`
	Metrics     MetricsConfig       `mapstructure:"metrics"`
	Selectors   map[string][]string `mapstructure:"selectors"`
}

// SiteConfig locates the store locator.
type SiteConfig struct {
	ListingURL  string `mapstructure:"listing_url"`
	ZipParam    string `mapstructure:"zip_param"`
	RadiusParam string `mapstructure:"radius_param"`
	// Domain is the site's own domain, never accepted as a shop website.
	// Empty derives it from ListingURL.
	Domain string `mapstructure:"domain"`
}

// SearchConfig tunes the search session.
type SearchConfig struct {
	RadiusKm          int           `mapstructure:"radius_km"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	QuietWindow       time.Duration `mapstructure:"quiet_window"`
	QuiescenceTimeout time.Duration `mapstructure:"quiescence_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	CandidateTimeout  time.Duration `mapstructure:"candidate_timeout"`
}

// ConvergenceConfig tunes result expansion.
type ConvergenceConfig struct {
	StableRounds    int           `mapstructure:"stable_rounds"`
	MaxRounds       int           `mapstructure:"max_rounds"`
	Budget          time.Duration `mapstructure:"budget"`
	RoundDelay      time.Duration `mapstructure:"round_delay"`
	LoadMoreTimeout time.Duration `mapstructure:"load_more_timeout"`
	ScrollStep      int           `mapstructure:"scroll_step"`
	ScrollPause     time.Duration `mapstructure:"scroll_pause"`
	ScrollFactor    float64       `mapstructure:"scroll_factor"`
}

// DetailConfig tunes detail extraction.
type DetailConfig struct {
	Mode              string                 `mapstructure:"mode"`
	NavigationTimeout time.Duration          `mapstructure:"navigation_timeout"`
	QuiescenceTimeout time.Duration          `mapstructure:"quiescence_timeout"`
	Denylist          []string               `mapstructure:"denylist"`
	Categories        []extract.CategoryRule `mapstructure:"categories"`
	DefaultCategory   string                 `mapstructure:"default_category"`
	RateLimit         ratelimit.Config       `mapstructure:"rate_limit"`
}

// BrowserConfig configures Chrome and the static fetcher.
type BrowserConfig struct {
	Headless      bool          `mapstructure:"headless"`
	ExecPath      string        `mapstructure:"exec_path"`
	UserAgent     string        `mapstructure:"user_agent"`
	WindowWidth   int           `mapstructure:"window_width"`
	WindowHeight  int           `mapstructure:"window_height"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// InputConfig selects the postal codes.
type InputConfig struct {
	PostalCodes []string `mapstructure:"postal_codes"`
	File        string   `mapstructure:"file"`
	StartIndex  int      `mapstructure:"start_index"`
	Limit       int      `mapstructure:"limit"`
}

// RunConfig controls concurrency.
type RunConfig struct {
	Workers int `mapstructure:"workers"`
}

// OutputConfig enables sinks. Every enabled sink receives every record.
type OutputConfig struct {
	JSONL    JSONLOutput    `mapstructure:"jsonl"`
	GCS      GCSOutput      `mapstructure:"gcs"`
	Postgres PostgresOutput `mapstructure:"postgres"`
	PubSub   PubSubOutput   `mapstructure:"pubsub"`
	Redis    RedisOutput    `mapstructure:"redis"`
}

// JSONLOutput writes newline-delimited JSON to a file or stdout.
type JSONLOutput struct {
	Enabled      bool `mapstructure:"enabled"`
	jsonl.Config `mapstructure:",squash"`
}

// GCSOutput writes one NDJSON object per run.
type GCSOutput struct {
	Enabled    bool `mapstructure:"enabled"`
	gcs.Config `mapstructure:",squash"`
}

// PostgresOutput inserts one row per record.
type PostgresOutput struct {
	Enabled         bool `mapstructure:"enabled"`
	postgres.Config `mapstructure:",squash"`
}

// PubSubOutput publishes one message per record.
type PubSubOutput struct {
	Enabled       bool `mapstructure:"enabled"`
	pubsub.Config `mapstructure:",squash"`
}

// RedisOutput pushes records onto a list.
type RedisOutput struct {
	Enabled      bool `mapstructure:"enabled"`
	redis.Config `mapstructure:",squash"`
}

// MetricsConfig controls the status server.
type MetricsConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	server.Config `mapstructure:",squash"`
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.listing_url", "https://www.bioladen.de/bio-haendler-suche")
	v.SetDefault("site.zip_param", "tx_splashshopfinder_shopfinder[search][location]")
	v.SetDefault("site.radius_param", "tx_splashshopfinder_shopfinder[search][radius]")
	v.SetDefault("site.domain", "")
	v.SetDefault("search.radius_km", 50)
	v.SetDefault("search.navigation_timeout", "45s")
	v.SetDefault("search.quiet_window", "500ms")
	v.SetDefault("search.quiescence_timeout", "10s")
	v.SetDefault("search.settle_delay", "1500ms")
	v.SetDefault("search.candidate_timeout", "1500ms")
	v.SetDefault("convergence.stable_rounds", converge.DefaultStableRounds)
	v.SetDefault("convergence.max_rounds", converge.MaxRounds)
	v.SetDefault("convergence.budget", "3m")
	v.SetDefault("convergence.round_delay", "1200ms")
	v.SetDefault("convergence.load_more_timeout", "1s")
	v.SetDefault("convergence.scroll_step", converge.DefaultScrollStep)
	v.SetDefault("convergence.scroll_pause", "900ms")
	v.SetDefault("convergence.scroll_factor", 1.2)
	v.SetDefault("detail.mode", DetailModeBrowser)
	v.SetDefault("detail.navigation_timeout", "45s")
	v.SetDefault("detail.quiescence_timeout", "5s")
	v.SetDefault("detail.default_category", extract.DefaultCategory)
	v.SetDefault("detail.rate_limit.rps", 1.0)
	v.SetDefault("detail.rate_limit.burst", 1)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119 Safari/537.36")
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.max_parallel", 4)
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.respect_robots", false)
	v.SetDefault("input.file", "plz_full.json")
	v.SetDefault("input.start_index", 0)
	v.SetDefault("input.limit", 0)
	v.SetDefault("run.workers", 1)
	v.SetDefault("output.jsonl.enabled", true)
	v.SetDefault("output.jsonl.path", "-")
	v.SetDefault("output.gcs.enabled", false)
	v.SetDefault("output.gcs.bucket", "")
	v.SetDefault("output.gcs.prefix", "shops")
	v.SetDefault("output.postgres.enabled", false)
	v.SetDefault("output.postgres.dsn", "")
	v.SetDefault("output.postgres.table", "shops")
	v.SetDefault("output.postgres.max_conns", 4)
	v.SetDefault("output.postgres.migrate", true)
	v.SetDefault("output.pubsub.enabled", false)
	v.SetDefault("output.pubsub.project_id", "")
	v.SetDefault("output.pubsub.topic", "")
	v.SetDefault("output.redis.enabled", false)
	v.SetDefault("output.redis.address", "localhost:6379")
	v.SetDefault("output.redis.password", "")
	v.SetDefault("output.redis.db", 0)
	v.SetDefault("output.redis.key", "shops")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.api_key", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Site.ListingURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("site.listing_url must be an absolute URL")
	}
	if strings.TrimSpace(c.Site.ZipParam) == "" || strings.TrimSpace(c.Site.RadiusParam) == "" {
		return fmt.Errorf("site.zip_param and site.radius_param must be set")
	}
	if c.Search.RadiusKm <= 0 {
		return fmt.Errorf("search.radius_km must be > 0")
	}
	if c.Search.CandidateTimeout < locator.MinCandidateTimeout || c.Search.CandidateTimeout > locator.MaxCandidateTimeout {
		return fmt.Errorf("search.candidate_timeout must be between %v and %v",
			locator.MinCandidateTimeout, locator.MaxCandidateTimeout)
	}
	if c.Convergence.StableRounds <= 0 {
		return fmt.Errorf("convergence.stable_rounds must be > 0")
	}
	if c.Convergence.MaxRounds <= 0 || c.Convergence.MaxRounds > converge.MaxRounds {
		return fmt.Errorf("convergence.max_rounds must be between 1 and %d", converge.MaxRounds)
	}
	if c.Detail.Mode != DetailModeBrowser && c.Detail.Mode != DetailModeStatic {
		return fmt.Errorf("detail.mode must be %q or %q", DetailModeBrowser, DetailModeStatic)
	}
	if c.Run.Workers <= 0 {
		return fmt.Errorf("run.workers must be > 0")
	}
	if c.Browser.MaxParallel < 0 {
		return fmt.Errorf("browser.max_parallel must be >= 0")
	}
	if c.Input.StartIndex < 0 || c.Input.Limit < 0 {
		return fmt.Errorf("input.start_index and input.limit must be >= 0")
	}
	if _, err := locator.Build(c.Selectors); err != nil {
		return fmt.Errorf("selectors: %w", err)
	}
	return c.Output.validate()
}

func (o OutputConfig) validate() error {
	if !o.JSONL.Enabled && !o.GCS.Enabled && !o.Postgres.Enabled && !o.PubSub.Enabled && !o.Redis.Enabled {
		return fmt.Errorf("at least one output must be enabled")
	}
	if o.JSONL.Enabled && o.JSONL.Path == "" {
		return fmt.Errorf("output.jsonl.path must be set when jsonl output is enabled")
	}
	if o.GCS.Enabled && o.GCS.Bucket == "" {
		return fmt.Errorf("output.gcs.bucket must be set when gcs output is enabled")
	}
	if o.Postgres.Enabled && o.Postgres.DSN == "" {
		return fmt.Errorf("output.postgres.dsn must be set when postgres output is enabled")
	}
	if o.PubSub.Enabled && (o.PubSub.ProjectID == "" || o.PubSub.Topic == "") {
		return fmt.Errorf("output.pubsub.project_id and output.pubsub.topic must be set when pubsub output is enabled")
	}
	if o.Redis.Enabled && o.Redis.Address == "" {
		return fmt.Errorf("output.redis.address must be set when redis output is enabled")
	}
	return nil
}

// SiteDomain returns the configured domain, or the listing URL's host.
func (c Config) SiteDomain() string {
	if c.Site.Domain != "" {
		return c.Site.Domain
	}
	u, err := url.Parse(c.Site.ListingURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// SessionConfig converts the search settings for the session controller.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		ListingURL:        c.Site.ListingURL,
		ZipParam:          c.Site.ZipParam,
		RadiusParam:       c.Site.RadiusParam,
		RadiusKm:          c.Search.RadiusKm,
		NavigationTimeout: c.Search.NavigationTimeout,
		QuietWindow:       c.Search.QuietWindow,
		QuiescenceTimeout: c.Search.QuiescenceTimeout,
		SettleDelay:       c.Search.SettleDelay,
	}
}

// LoaderConfig converts the convergence settings.
func (c Config) LoaderConfig() converge.Config {
	return converge.Config{
		StableRounds:      c.Convergence.StableRounds,
		MaxRounds:         c.Convergence.MaxRounds,
		Budget:            c.Convergence.Budget,
		RoundDelay:        c.Convergence.RoundDelay,
		QuietWindow:       c.Search.QuietWindow,
		QuiescenceTimeout: c.Search.QuiescenceTimeout,
		LoadMoreTimeout:   c.Convergence.LoadMoreTimeout,
		ScrollStep:        c.Convergence.ScrollStep,
		ScrollPause:       c.Convergence.ScrollPause,
		ScrollFactor:      c.Convergence.ScrollFactor,
	}
}

// ExtractConfig converts the detail settings.
func (c Config) ExtractConfig() extract.Config {
	return extract.Config{
		SiteDomain:        c.SiteDomain(),
		Denylist:          c.Detail.Denylist,
		Categories:        c.Detail.Categories,
		DefaultCategory:   c.Detail.DefaultCategory,
		NavigationTimeout: c.Detail.NavigationTimeout,
		QuietWindow:       c.Search.QuietWindow,
		QuiescenceTimeout: c.Detail.QuiescenceTimeout,
	}
}

// HeadlessConfig converts the browser settings for chromedp.
func (c Config) HeadlessConfig() headless.Config {
	return headless.Config{
		Headless:          c.Browser.Headless,
		ExecPath:          c.Browser.ExecPath,
		UserAgent:         c.Browser.UserAgent,
		WindowWidth:       c.Browser.WindowWidth,
		WindowHeight:      c.Browser.WindowHeight,
		MaxParallel:       c.Browser.MaxParallel,
		NavigationTimeout: c.Search.NavigationTimeout,
		ActionTimeout:     c.Browser.ActionTimeout,
	}
}

// StaticConfig converts the browser settings for the HTTP driver.
func (c Config) StaticConfig() static.Config {
	return static.Config{
		UserAgent:     c.Browser.UserAgent,
		RespectRobots: c.Browser.RespectRobots,
		Timeout:       c.Detail.NavigationTimeout,
	}
}

// InputOptions converts the input settings.
func (c Config) InputOptions() input.Options {
	return input.Options{
		Codes: c.Input.PostalCodes,
		File:  c.Input.File,
		Start: c.Input.StartIndex,
		Limit: c.Input.Limit,
	}
}
