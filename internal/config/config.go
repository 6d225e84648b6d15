package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	PolicyFailLoud = "fail_loud"
	PolicyFailSoft = "fail_soft"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Reindex       ReindexConfig       `yaml:"reindex"`
	Cache         CacheConfig         `yaml:"cache"`
	Search        SearchConfig        `yaml:"search"`
	Redis         RedisConfig         `yaml:"redis"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	// ReindexPerMinute limits manual reindex requests. Zero disables the limit.
	ReindexPerMinute int `yaml:"reindex_per_minute"`
}

type ElasticsearchConfig struct {
	Addresses      []string      `yaml:"addresses"`
	APIKey         string        `yaml:"api_key"`
	Index          string        `yaml:"index"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	BulkTimeout    time.Duration `yaml:"bulk_timeout"`
	NumShards      int           `yaml:"num_shards"`
	NumReplicas    int           `yaml:"num_replicas"`
}

type CatalogConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ReindexConfig struct {
	Interval     time.Duration `yaml:"interval"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	RunOnStartup bool          `yaml:"run_on_startup"`
}

type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Shards        int           `yaml:"shards"`
}

type SearchConfig struct {
	DefaultSize       int                  `yaml:"default_size"`
	MaxSize           int                  `yaml:"max_size"`
	SuggestSize       int                  `yaml:"suggest_size"`
	SuggestMinChars   int                  `yaml:"suggest_min_chars"`
	UnavailablePolicy string               `yaml:"unavailable_policy"`
	QueryTimeout      time.Duration        `yaml:"query_timeout"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry             RetryConfig          `yaml:"retry"`
	SlowQuery         SlowQueryConfig      `yaml:"slow_query"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
}

type SlowQueryConfig struct {
	WarningThreshold  time.Duration `yaml:"warning_threshold"`
	CriticalThreshold time.Duration `yaml:"critical_threshold"`
}

// RedisConfig enables the cross-replica reindex lease. No addresses means
// mutual exclusion stays process-local.
type RedisConfig struct {
	Addresses   []string      `yaml:"addresses"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	LeaseKey    string        `yaml:"lease_key"`
	LeaseTTL    time.Duration `yaml:"lease_ttl"`
}

func (r RedisConfig) Enabled() bool {
	return len(r.Addresses) > 0
}

type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	TopicChanges    string        `yaml:"topic_changes"`
	TopicReindexed  string        `yaml:"topic_reindexed"`
	ConsumerGroup   string        `yaml:"consumer_group"`
	BatchTimeout    time.Duration `yaml:"batch_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	TriggerDebounce time.Duration `yaml:"trigger_debounce"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type ClickHouseConfig struct {
	Addresses    []string      `yaml:"addresses"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

func (c ClickHouseConfig) Enabled() bool {
	return len(c.Addresses) > 0
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	ServiceName string `yaml:"service_name"`
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      10 * time.Second,
			WriteTimeout:     30 * time.Second,
			ShutdownTimeout:  30 * time.Second,
			MaxConcurrent:    1000,
			ReindexPerMinute: 6,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:      []string{"http://localhost:9200"},
			Index:          "productos",
			MaxRetries:     0,
			RequestTimeout: 5 * time.Second,
			BulkTimeout:    30 * time.Second,
			NumShards:      1,
			NumReplicas:    1,
		},
		Catalog: CatalogConfig{
			URL:     "http://localhost:8081/productos",
			Timeout: 5 * time.Second,
		},
		Reindex: ReindexConfig{
			Interval:     5 * time.Minute,
			InitialDelay: 5 * time.Second,
			RunOnStartup: true,
		},
		Cache: CacheConfig{
			TTL:           30 * time.Second,
			SweepInterval: 30 * time.Second,
			Shards:        16,
		},
		Search: SearchConfig{
			DefaultSize:       20,
			MaxSize:           100,
			SuggestSize:       5,
			SuggestMinChars:   2,
			UnavailablePolicy: PolicyFailLoud,
			QueryTimeout:      15 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      5,
				Interval:         30 * time.Second,
				Timeout:          15 * time.Second,
				FailureThreshold: 5,
			},
			Retry: RetryConfig{
				MaxAttempts: 2,
				InitialWait: 50 * time.Millisecond,
				MaxWait:     500 * time.Millisecond,
				Multiplier:  2.0,
			},
			SlowQuery: SlowQueryConfig{
				WarningThreshold:  500 * time.Millisecond,
				CriticalThreshold: 2 * time.Second,
			},
		},
		Redis: RedisConfig{
			DialTimeout: 2 * time.Second,
			LeaseKey:    "catalog-search:reindex",
			LeaseTTL:    10 * time.Minute,
		},
		Kafka: KafkaConfig{
			TopicChanges:    "catalog.changes",
			TopicReindexed:  "catalog.reindexed",
			ConsumerGroup:   "catalog-search",
			BatchTimeout:    time.Second,
			MaxRetries:      3,
			TriggerDebounce: 10 * time.Second,
		},
		ClickHouse: ClickHouseConfig{
			Database:     "catalog_search",
			DialTimeout:  5 * time.Second,
			QueryTimeout: 2 * time.Second,
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			ServiceName: "catalog-search",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReindexPerMinute < 0 {
		return fmt.Errorf("reindex_per_minute must not be negative")
	}
	if len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("at least one elasticsearch address required")
	}
	if c.Elasticsearch.Index == "" {
		return fmt.Errorf("elasticsearch index name required")
	}
	if c.Elasticsearch.RequestTimeout <= 0 {
		return fmt.Errorf("elasticsearch request timeout must be positive")
	}
	if _, err := url.ParseRequestURI(c.Catalog.URL); err != nil {
		return fmt.Errorf("invalid catalog url %q: %w", c.Catalog.URL, err)
	}
	if c.Catalog.Timeout <= 0 {
		return fmt.Errorf("catalog timeout must be positive")
	}
	if c.Reindex.Interval <= 0 {
		return fmt.Errorf("reindex interval must be positive")
	}
	if c.Reindex.InitialDelay < 0 {
		return fmt.Errorf("reindex initial delay must not be negative")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Search.DefaultSize <= 0 {
		return fmt.Errorf("default size must be positive")
	}
	if c.Search.MaxSize <= 0 || c.Search.MaxSize > 1000 {
		return fmt.Errorf("max size must be between 1 and 1000")
	}
	if c.Search.SuggestSize <= 0 {
		return fmt.Errorf("suggest size must be positive")
	}
	switch c.Search.UnavailablePolicy {
	case PolicyFailLoud, PolicyFailSoft:
	default:
		return fmt.Errorf("unknown unavailable policy %q", c.Search.UnavailablePolicy)
	}
	if c.Search.QueryTimeout < 0 {
		return fmt.Errorf("query timeout must not be negative")
	}
	if c.Redis.Enabled() && c.Redis.LeaseTTL <= 0 {
		return fmt.Errorf("redis lease ttl must be positive")
	}
	return nil
}
