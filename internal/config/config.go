// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. THREADCRAWLER_CRAWL_QPS=2.
const EnvPrefix = "THREADCRAWLER"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config captures every knob of a crawl run.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Output  OutputConfig  `mapstructure:"output"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig governs the page range and the worker pools.
type CrawlConfig struct {
	Start       int     `mapstructure:"start"`
	End         int     `mapstructure:"end"`
	Concurrency int     `mapstructure:"concurrency"`
	QPS         float64 `mapstructure:"qps"`
	LimitRetry  int     `mapstructure:"limit_retry"`
	ListingURL  string  `mapstructure:"listing_url"`
	DetailURL   string  `mapstructure:"detail_url"`
	Charset     string  `mapstructure:"charset"`
}

// HTTPConfig configures the fetchers.
type HTTPConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
	Headless        bool          `mapstructure:"headless"`
	HeadlessTimeout time.Duration `mapstructure:"headless_timeout"`
}

// OutputConfig selects the sinks. Outfile is always written; the rest are optional.
type OutputConfig struct {
	Outfile       string `mapstructure:"outfile"`
	GCSURI        string `mapstructure:"gcs_uri"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// MetricsConfig controls the operator HTTP endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// NewViper returns a Viper instance with defaults and environment binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the optional config file at path into v and returns the validated Config.
func Load(v *viper.Viper, path string) (Config, error) {
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
	v.SetDefault("crawl.start", 1)
	v.SetDefault("crawl.end", crawler.MaxPage)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.qps", 0)
	v.SetDefault("crawl.limit_retry", crawler.DefaultAttempts)
	v.SetDefault("crawl.listing_url", "https://www.18qiang.com/thread-htm-fid-2-page-%d.html")
	v.SetDefault("crawl.detail_url", "https://m.18qiang.com/read.php?tid=%s")
	v.SetDefault("crawl.charset", "gbk")
	v.SetDefault("http.user_agent", "threadcrawler/0.1")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.headless", false)
	v.SetDefault("http.headless_timeout", "45s")
	// Empty defaults register the keys so environment overrides reach Unmarshal.
	v.SetDefault("output.outfile", "")
	v.SetDefault("output.gcs_uri", "")
	v.SetDefault("output.postgres_dsn", "")
	v.SetDefault("output.postgres_table", "thread_records")
	v.SetDefault("output.pubsub_project", "")
	v.SetDefault("output.pubsub_topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Start < 1 || c.Crawl.End > crawler.MaxPage || c.Crawl.Start > c.Crawl.End {
		return fmt.Errorf("%w: page range [%d, %d] must satisfy 1 <= start <= end <= %d",
			ErrInvalid, c.Crawl.Start, c.Crawl.End, crawler.MaxPage)
	}
	if c.Crawl.Concurrency < 2 {
		return fmt.Errorf("%w: crawl.concurrency must be >= 2, got %d", ErrInvalid, c.Crawl.Concurrency)
	}
	if c.Crawl.QPS < 0 {
		return fmt.Errorf("%w: crawl.qps must be >= 0", ErrInvalid)
	}
	if c.Crawl.LimitRetry <= 0 {
		return fmt.Errorf("%w: crawl.limit_retry must be > 0", ErrInvalid)
	}
	if err := c.URLTemplates().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if strings.TrimSpace(c.Crawl.Charset) == "" {
		return fmt.Errorf("%w: crawl.charset is required", ErrInvalid)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("%w: http.timeout must be > 0", ErrInvalid)
	}
	if c.HTTP.Headless && c.HTTP.HeadlessTimeout <= 0 {
		return fmt.Errorf("%w: http.headless_timeout must be > 0 when headless is enabled", ErrInvalid)
	}
	if strings.TrimSpace(c.Output.Outfile) == "" {
		return fmt.Errorf("%w: output.outfile is required", ErrInvalid)
	}
	if c.Output.GCSURI != "" && !strings.HasPrefix(c.Output.GCSURI, "gs://") {
		return fmt.Errorf("%w: output.gcs_uri must start with gs://", ErrInvalid)
	}
	if (c.Output.PubSubTopic == "") != (c.Output.PubSubProject == "") {
		return fmt.Errorf("%w: output.pubsub_project and output.pubsub_topic must be set together", ErrInvalid)
	}
	return nil
}

// URLTemplates returns the listing and detail templates.
func (c Config) URLTemplates() crawler.URLTemplates {
	return crawler.URLTemplates{
		Listing: c.Crawl.ListingURL,
		Detail:  c.Crawl.DetailURL,
	}
}
