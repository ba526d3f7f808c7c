// Package config loads and validates auditor configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pagespeed-auditor/internal/audit"
)

// EnvPrefix prefixes every environment override, e.g. PAGESPEED_AUDIT_TIMEOUT.
const EnvPrefix = "PAGESPEED"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config captures all knobs loaded via Viper.
type Config struct {
	Run     RunConfig     `mapstructure:"run"`
	Report  ReportConfig  `mapstructure:"report"`
	Sitemap SitemapConfig `mapstructure:"sitemap"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RunConfig controls the measurement loop.
type RunConfig struct {
	Sitemap      string `mapstructure:"sitemap"`
	DelaySeconds int    `mapstructure:"delay_seconds"`
}

// ReportConfig places the CSV report.
type ReportConfig struct {
	Dir string `mapstructure:"dir"`
}

// SitemapConfig configures sitemap retrieval.
type SitemapConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// AuditConfig configures the Lighthouse invocation.
type AuditConfig struct {
	Command          string        `mapstructure:"command"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ChromeFlags      string        `mapstructure:"chrome_flags"`
	ThrottlingMethod string        `mapstructure:"throttling_method"`
	TempDir          string        `mapstructure:"temp_dir"`
}

// MetricsConfig enables the status server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig enables report archiving to GCS when GCSBucket is set.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig enables the Postgres measurement mirror when DSN is set.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig enables run notifications when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// New returns a Viper instance with defaults and environment binding applied.
// Callers may bind flags to it before passing it to Decode.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(New(), path)
}

// LoadWith reads the optional file at path into v and decodes the result.
func LoadWith(v *viper.Viper, path string) (Config, error) {
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
	v.SetDefault("run.sitemap", "")
	v.SetDefault("run.delay_seconds", 5)
	v.SetDefault("report.dir", ".")
	v.SetDefault("sitemap.timeout", 10*time.Second)
	v.SetDefault("sitemap.user_agent", "")
	v.SetDefault("audit.command", "lighthouse")
	v.SetDefault("audit.timeout", 180*time.Second)
	v.SetDefault("audit.chrome_flags", "--headless --no-sandbox")
	v.SetDefault("audit.throttling_method", audit.ThrottlingProvided)
	v.SetDefault("audit.temp_dir", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "measurements")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits. The sitemap URL
// itself is checked by ValidateSitemap once flags are applied.
func (c Config) Validate() error {
	if c.Run.DelaySeconds < 0 {
		return fmt.Errorf("run.delay_seconds must be >= 0")
	}
	if c.Sitemap.Timeout <= 0 {
		return fmt.Errorf("sitemap.timeout must be > 0")
	}
	if strings.TrimSpace(c.Audit.Command) == "" {
		return fmt.Errorf("audit.command must not be empty")
	}
	if c.Audit.Timeout <= 0 {
		return fmt.Errorf("audit.timeout must be > 0")
	}
	if !audit.ValidThrottlingMethod(c.Audit.ThrottlingMethod) {
		return fmt.Errorf("audit.throttling_method %q is not one of provided, simulate, devtools", c.Audit.ThrottlingMethod)
	}
	if c.DB.DSN != "" && !tableNamePattern.MatchString(c.DB.Table) {
		return fmt.Errorf("db.table %q is not a valid identifier", c.DB.Table)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// ValidateSitemap checks that raw is an absolute http(s) URL.
func ValidateSitemap(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("sitemap url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse sitemap url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("sitemap url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("sitemap url %q has no host", raw)
	}
	return nil
}

// Delay returns the pause between audits.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Run.DelaySeconds) * time.Second
}

// ArchiveEnabled reports whether finished reports are uploaded.
func (c Config) ArchiveEnabled() bool {
	return c.Storage.GCSBucket != ""
}

// MirrorEnabled reports whether records are copied to Postgres.
func (c Config) MirrorEnabled() bool {
	return c.DB.DSN != ""
}

// NotifyEnabled reports whether run summaries are published.
func (c Config) NotifyEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}
