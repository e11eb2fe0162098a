// Package config loads and validates harvester configuration via Viper.
package config

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
)

//go:embed mappings/*.json
var defaultMappings embed.FS

// Index backends.
const (
	BackendElasticsearch = "elasticsearch"
	BackendMemory        = "memory"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Source    SourceConfig    `mapstructure:"source"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Index     IndexConfig     `mapstructure:"index"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

// LoggingConfig selects the zap preset.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig configures the YouTube Data API client.
type SourceConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	RegionCode string        `mapstructure:"region_code"`
	PageSize   int64         `mapstructure:"page_size"`
	Hydrate    bool          `mapstructure:"hydrate"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker around API calls.
type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// CrawlConfig bounds pagination.
type CrawlConfig struct {
	MaxScrolls         int           `mapstructure:"max_scrolls"`
	PageDelay          time.Duration `mapstructure:"page_delay"`
	FeedbackMaxScrolls int           `mapstructure:"feedback_max_scrolls"`
	TopTags            int           `mapstructure:"top_tags"`
}

// IndexConfig configures the search index and its two target indices.
type IndexConfig struct {
	Backend     string            `mapstructure:"backend"`
	Addresses   []string          `mapstructure:"addresses"`
	Username    string            `mapstructure:"username"`
	Password    string            `mapstructure:"password"`
	APIKey      string            `mapstructure:"api_key"`
	CloudID     string            `mapstructure:"cloud_id"`
	Bootstrap   bool              `mapstructure:"bootstrap"`
	Content     IndexTarget       `mapstructure:"content"`
	Tags        IndexTarget       `mapstructure:"tags"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
}

// IndexTarget names one index. Mapping is filled by Load from MappingFile, or from
// the built-in default when no file is configured.
type IndexTarget struct {
	Name        string          `mapstructure:"name"`
	MappingFile string          `mapstructure:"mapping_file"`
	Mapping     json.RawMessage `mapstructure:"-"`
}

// AggregationConfig selects what the tag feedback loop aggregates. Index defaults to
// the content index.
type AggregationConfig struct {
	Index string `mapstructure:"index"`
	Field string `mapstructure:"field"`
}

// ArchiveConfig controls where raw run payloads are kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls the optional Postgres run ledger.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig controls run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TelemetryConfig controls OTLP trace export. An empty endpoint disables export.
type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// OpsConfig controls the health and metrics listener. Empty disables it.
type OpsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ScheduleConfig lists recurring runs for the schedule command.
type ScheduleConfig struct {
	Timezone string        `mapstructure:"timezone"`
	Jobs     []ScheduleJob `mapstructure:"jobs"`
}

// ScheduleJob is one cron entry.
type ScheduleJob struct {
	Name       string   `mapstructure:"name"`
	Cron       string   `mapstructure:"cron"`
	Mode       string   `mapstructure:"mode"`
	Categories []string `mapstructure:"categories"`
}

// Load reads an optional .env file, the optional YAML file at path and HARVESTER_*
// environment variables, then validates the result and loads index mappings.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	if cfg.Index.Aggregation.Index == "" {
		cfg.Index.Aggregation.Index = cfg.Index.Content.Name
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := cfg.loadMappings(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(file string) error {
	if err := godotenv.Load(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.region_code", "US")
	v.SetDefault("source.page_size", 50)
	v.SetDefault("source.hydrate", true)
	v.SetDefault("source.breaker.max_requests", 1)
	v.SetDefault("source.breaker.interval", "0s")
	v.SetDefault("source.breaker.timeout", "60s")
	v.SetDefault("source.breaker.min_requests", 5)
	v.SetDefault("source.breaker.failure_ratio", 0.6)
	v.SetDefault("crawl.max_scrolls", 10)
	v.SetDefault("crawl.page_delay", "1s")
	v.SetDefault("crawl.feedback_max_scrolls", 1)
	v.SetDefault("crawl.top_tags", 50)
	v.SetDefault("index.backend", BackendElasticsearch)
	v.SetDefault("index.addresses", []string{"http://localhost:9200"})
	v.SetDefault("index.username", "")
	v.SetDefault("index.password", "")
	v.SetDefault("index.api_key", "")
	v.SetDefault("index.cloud_id", "")
	v.SetDefault("index.bootstrap", true)
	v.SetDefault("index.content.name", "youtube")
	v.SetDefault("index.content.mapping_file", "")
	v.SetDefault("index.tags.name", "tags")
	v.SetDefault("index.tags.mapping_file", "")
	v.SetDefault("index.aggregation.index", "")
	v.SetDefault("index.aggregation.field", "tags")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "harvest_runs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("telemetry.service_name", "aggtube-harvester")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("ops.listen_addr", "")
	v.SetDefault("schedule.timezone", "UTC")
}

// Validate enforces required settings. Missing index names or unusable index
// settings wrap harvest.ErrConfigurationMissing.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Index.Content.Name) == "" {
		return missing("index.content.name must be set")
	}
	if strings.TrimSpace(c.Index.Tags.Name) == "" {
		return missing("index.tags.name must be set")
	}
	if c.Index.Content.Name == c.Index.Tags.Name {
		return missing("index.content.name and index.tags.name must differ")
	}
	switch c.Index.Backend {
	case BackendElasticsearch:
		if len(c.Index.Addresses) == 0 && c.Index.CloudID == "" {
			return missing("index.addresses or index.cloud_id must be set for the elasticsearch backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("index.backend %q is not supported", c.Index.Backend)
	}
	if strings.TrimSpace(c.Index.Aggregation.Field) == "" {
		return missing("index.aggregation.field must be set")
	}

	if c.Crawl.MaxScrolls < 0 {
		return fmt.Errorf("crawl.max_scrolls must be >= 0")
	}
	if c.Crawl.FeedbackMaxScrolls < 0 {
		return fmt.Errorf("crawl.feedback_max_scrolls must be >= 0")
	}
	if c.Crawl.TopTags <= 0 {
		return fmt.Errorf("crawl.top_tags must be > 0")
	}
	if c.Crawl.PageDelay < 0 {
		return fmt.Errorf("crawl.page_delay must be >= 0")
	}
	if c.Source.PageSize <= 0 || c.Source.PageSize > 50 {
		return fmt.Errorf("source.page_size must be between 1 and 50")
	}

	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.backend is local")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}

	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}

	for i, job := range c.Schedule.Jobs {
		if strings.TrimSpace(job.Cron) == "" {
			return fmt.Errorf("schedule.jobs[%d].cron must be set", i)
		}
		if _, err := harvest.ParseMode(job.Mode); err != nil {
			return fmt.Errorf("schedule.jobs[%d]: %w", i, err)
		}
	}
	return nil
}

func missing(msg string) error {
	return fmt.Errorf("%w: %s", harvest.ErrConfigurationMissing, msg)
}

func (c *Config) loadMappings() error {
	var err error
	if c.Index.Content.Mapping, err = readMapping(c.Index.Content.MappingFile, "mappings/content.json"); err != nil {
		return fmt.Errorf("index.content: %w", err)
	}
	if c.Index.Tags.Mapping, err = readMapping(c.Index.Tags.MappingFile, "mappings/tags.json"); err != nil {
		return fmt.Errorf("index.tags: %w", err)
	}
	return nil
}

func readMapping(file, fallback string) (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)
	if file == "" {
		raw, err = defaultMappings.ReadFile(fallback)
	} else {
		raw, err = os.ReadFile(file) // #nosec G304 -- operator-supplied mapping path.
	}
	if err != nil {
		return nil, missing(fmt.Sprintf("read mapping %s: %v", file, err))
	}
	if !json.Valid(raw) {
		return nil, missing(fmt.Sprintf("mapping %s is not valid JSON", file))
	}
	return json.RawMessage(raw), nil
}
