// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/doccrawler/internal/crawler"
)

// EnvPrefix prefixes every environment override, e.g. DOCCRAWLER_CRAWL_DEPTH.
const EnvPrefix = "DOCCRAWLER"

// DefaultUserAgent identifies the crawler when crawl.user_agent is unset.
const DefaultUserAgent = "doccrawler/1.0 (+https://github.com/JakeFAU/doccrawler)"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig         `mapstructure:"crawl"`
	Timeouts crawler.Timeouts    `mapstructure:"timeouts"`
	Retry    crawler.RetryPolicy `mapstructure:"retry"`
	Limits   crawler.Limits      `mapstructure:"limits"`
	Headless HeadlessConfig      `mapstructure:"headless"`
	Storage  StorageConfig       `mapstructure:"storage"`
	Logging  LoggingConfig       `mapstructure:"logging"`
	Metrics  MetricsConfig       `mapstructure:"metrics"`
}

// CrawlConfig governs traversal scope and output.
type CrawlConfig struct {
	Depth          int      `mapstructure:"depth"`
	FileTypes      []string `mapstructure:"file_types"`
	StorageRoot    string   `mapstructure:"storage_root"`
	SameDomainOnly bool     `mapstructure:"same_domain_only"`
	UnderPathOnly  bool     `mapstructure:"under_path_only"`
	Transform      string   `mapstructure:"transform"`
	UserAgent      string   `mapstructure:"user_agent"`
	RenderFallback bool     `mapstructure:"render_fallback"`
	// RateBurst is the token bucket size used with limits.per_host_rps.
	RateBurst int `mapstructure:"rate_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// StorageConfig carries backend settings the storage root URI cannot.
type StorageConfig struct {
	S3Region          string `mapstructure:"s3_region"`
	S3Endpoint        string `mapstructure:"s3_endpoint"`
	S3PathStyle       bool   `mapstructure:"s3_path_style"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
	GCSEndpoint       string `mapstructure:"gcs_endpoint"`
	SpoolDir          string `mapstructure:"spool_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	return LoadFrom(viper.New(), path)
}

// LoadFrom builds a Config from v, which may already carry bound flags.
// path, when set, names a config file that must exist.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

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

// SetDefaults registers the stock values on v.
func SetDefaults(v *viper.Viper) {
	timeouts := crawler.DefaultTimeouts()
	retry := crawler.DefaultRetryPolicy()
	limits := crawler.DefaultLimits()

	v.SetDefault("crawl.depth", 1)
	v.SetDefault("crawl.file_types", []string{"html", "pdf", "docx", "pptx"})
	v.SetDefault("crawl.storage_root", "./downloads")
	v.SetDefault("crawl.same_domain_only", true)
	v.SetDefault("crawl.under_path_only", true)
	v.SetDefault("crawl.transform", "")
	v.SetDefault("crawl.user_agent", DefaultUserAgent)
	v.SetDefault("crawl.render_fallback", false)
	v.SetDefault("crawl.rate_burst", 1)

	v.SetDefault("timeouts.connect", timeouts.Connect)
	v.SetDefault("timeouts.read", timeouts.Read)
	v.SetDefault("timeouts.total", timeouts.Total)

	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.backoff_base", retry.BackoffBase)
	v.SetDefault("retry.backoff_max", retry.BackoffMax)
	v.SetDefault("retry.jitter", retry.Jitter)

	v.SetDefault("limits.max_files", limits.MaxFiles)
	v.SetDefault("limits.max_pages", limits.MaxPages)
	v.SetDefault("limits.max_total_bytes", limits.MaxTotalBytes)
	v.SetDefault("limits.max_item_bytes", limits.MaxItemBytes)
	v.SetDefault("limits.max_concurrency_html", limits.MaxConcurrencyHTML)
	v.SetDefault("limits.max_concurrency_binary", limits.MaxConcurrencyBinary)
	v.SetDefault("limits.multipart_threshold", limits.MultipartThreshold)
	v.SetDefault("limits.multipart_chunk_size", limits.MultipartChunkSize)
	v.SetDefault("limits.per_host_rps", limits.PerHostRPS)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", 25*time.Second)
	v.SetDefault("headless.settle_delay", 500*time.Millisecond)

	v.SetDefault("storage.s3_region", "")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.s3_path_style", false)
	v.SetDefault("storage.s3_access_key_id", "")
	v.SetDefault("storage.s3_secret_access_key", "")
	v.SetDefault("storage.gcs_endpoint", "")
	v.SetDefault("storage.spool_dir", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.listen", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Crawl.Depth < 0 {
		errs = append(errs, fmt.Errorf("crawl.depth must be >= 0"))
	}
	if strings.TrimSpace(c.Crawl.StorageRoot) == "" {
		errs = append(errs, fmt.Errorf("crawl.storage_root is required"))
	}
	if _, err := c.FileTypes(); err != nil {
		errs = append(errs, err)
	}
	if c.Timeouts.Connect <= 0 || c.Timeouts.Read <= 0 || c.Timeouts.Total <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.connect, timeouts.read and timeouts.total must be > 0"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1"))
	}
	if c.Retry.BackoffBase < 0 || c.Retry.BackoffMax < 0 || c.Retry.Jitter < 0 {
		errs = append(errs, fmt.Errorf("retry durations must be >= 0"))
	}
	if c.Limits.MaxFiles < 1 {
		errs = append(errs, fmt.Errorf("limits.max_files must be > 0"))
	}
	if c.Limits.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("limits.max_pages must be > 0"))
	}
	if c.Limits.MaxTotalBytes <= 0 || c.Limits.MaxItemBytes <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_total_bytes and limits.max_item_bytes must be > 0"))
	}
	if c.Limits.MaxConcurrencyHTML < 1 || c.Limits.MaxConcurrencyBinary < 1 {
		errs = append(errs, fmt.Errorf("limits.max_concurrency_html and limits.max_concurrency_binary must be > 0"))
	}
	if c.Limits.MultipartThreshold > 0 && c.Limits.MultipartChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("limits.multipart_chunk_size must be > 0 when multipart is enabled"))
	}
	if c.Limits.PerHostRPS < 0 {
		errs = append(errs, fmt.Errorf("limits.per_host_rps must be >= 0"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled"))
	}
	return errors.Join(errs...)
}

// FileTypes parses crawl.file_types. Entries may also be comma separated.
func (c Config) FileTypes() ([]crawler.CanonicalType, error) {
	var out []crawler.CanonicalType
	for _, entry := range c.Crawl.FileTypes {
		for _, raw := range strings.Split(entry, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			typ, ok := crawler.ParseCanonicalType(raw)
			if !ok {
				return nil, fmt.Errorf("crawl.file_types: unknown type %q", raw)
			}
			out = append(out, typ)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("crawl.file_types must name at least one type")
	}
	return out, nil
}

// CrawlRequest builds the request for seed from the loaded values.
func (c Config) CrawlRequest(seed string) (crawler.CrawlRequest, error) {
	types, err := c.FileTypes()
	if err != nil {
		return crawler.CrawlRequest{}, err
	}
	req := crawler.NewCrawlRequest(seed).
		WithDepth(c.Crawl.Depth).
		WithFileTypes(types).
		WithStorageRoot(c.Crawl.StorageRoot).
		WithLimits(c.Limits)
	req.SameDomainOnly = c.Crawl.SameDomainOnly
	req.UnderPathOnly = c.Crawl.UnderPathOnly
	req.Transform = strings.TrimSpace(c.Crawl.Transform)
	req.RenderFallback = c.Crawl.RenderFallback && c.Headless.Enabled
	req.Timeouts = c.Timeouts
	req.Retry = c.Retry
	return req, nil
}
