package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Dlobflow  DlobflowConfig  `yaml:"dlobflow"`
	Server    ServerConfig    `yaml:"server"`
	Markets   []MarketConfig  `yaml:"markets"`
	Tiers     []TierConfig    `yaml:"tiers"`
	Polling   PollingConfig   `yaml:"polling"`
	Streaming StreamingConfig `yaml:"streaming"`
	Health    HealthConfig    `yaml:"health"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type DlobflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ServerConfig names the dlob server endpoints and the strategy the
// session starts on.
type ServerConfig struct {
	HTTPURL         string `yaml:"http_url"`
	WSURL           string `yaml:"ws_url"`
	InitialStrategy string `yaml:"initial_strategy"`
}

type MarketConfig struct {
	Index uint16 `yaml:"index"`
	Type  string `yaml:"type"`
	Tier  string `yaml:"tier"`
}

type TierConfig struct {
	ID         string `yaml:"id"`
	Multiplier int    `yaml:"multiplier"`
	Depth      int    `yaml:"depth"`
}

type PollingConfig struct {
	BaseTick             time.Duration `yaml:"base_tick"`
	MaxConsecutiveEmpty  int           `yaml:"max_consecutive_empty"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	RequestsPerSecond    int           `yaml:"requests_per_second"`
	BurstSize            int           `yaml:"burst_size"`
	Timeout              time.Duration `yaml:"timeout"`
	IncludeVamm          bool          `yaml:"include_vamm"`
	IncludePhoenix       bool          `yaml:"include_phoenix"`
	IncludeSerum         bool          `yaml:"include_serum"`
	IncludeOracle        bool          `yaml:"include_oracle"`
}

type StreamingConfig struct {
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	MinReconnectDelay    time.Duration `yaml:"min_reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	FirstMessageTimeout  time.Duration `yaml:"first_message_timeout"`
	MessageTimeout       time.Duration `yaml:"message_timeout"`
	TeardownGrace        time.Duration `yaml:"teardown_grace"`
}

type HealthConfig struct {
	WindowSize int     `yaml:"window_size"`
	MinSamples int     `yaml:"min_samples"`
	MinSuccess float64 `yaml:"min_success"`
}

type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	TTL         time.Duration `yaml:"ttl"`
	WritePolicy string        `yaml:"write_policy"`
}

type StorageConfig struct {
	S3       S3Config       `yaml:"s3"`
	Recorder RecorderConfig `yaml:"recorder"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
}

type LoggingConfig struct {
	Level          string                 `yaml:"level"`
	Format         string                 `yaml:"format"`
	Output         string                 `yaml:"output"`
	MaxAge         int                    `yaml:"max_age"`
	Fields         map[string]interface{} `yaml:"fields"`
	DashboardName  string                 `yaml:"dashboard_name"`
	ReportInterval time.Duration          `yaml:"report_interval"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Polling: PollingConfig{
			IncludeVamm:   true,
			IncludeOracle: true,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override server and storage settings from environment variables if available
	if v := os.Getenv("DLOB_HTTP_URL"); v != "" {
		config.Server.HTTPURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DLOB_WS_URL"); v != "" {
		config.Server.WSURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Cache.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Cache.Password = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Dlobflow.Name == "" {
		return fmt.Errorf("dlobflow.name is required")
	}
	if cfg.Dlobflow.Version == "" {
		return fmt.Errorf("dlobflow.version is required")
	}

	if cfg.Server.HTTPURL == "" {
		return fmt.Errorf("server.http_url is required")
	}
	if cfg.Server.WSURL == "" {
		return fmt.Errorf("server.ws_url is required")
	}
	switch cfg.Server.InitialStrategy {
	case "", "blockchain", "dlob_server_polling", "dlob_server_websocket":
	default:
		return fmt.Errorf("server.initial_strategy '%s' is invalid", cfg.Server.InitialStrategy)
	}

	if len(cfg.Tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	seen := map[string]bool{}
	for _, t := range cfg.Tiers {
		if t.ID == "" {
			return fmt.Errorf("tiers[].id is required")
		}
		if seen[t.ID] {
			return fmt.Errorf("tier '%s' is declared twice", t.ID)
		}
		seen[t.ID] = true
		if t.Multiplier <= 0 {
			return fmt.Errorf("tier '%s' multiplier must be greater than 0", t.ID)
		}
		if t.Depth <= 0 {
			return fmt.Errorf("tier '%s' depth must be greater than 0", t.ID)
		}
	}

	for _, m := range cfg.Markets {
		if m.Type != "perp" && m.Type != "spot" {
			return fmt.Errorf("market type '%s' is invalid", m.Type)
		}
		if !seen[m.Tier] {
			return fmt.Errorf("market %s-%d names unknown tier '%s'", m.Type, m.Index, m.Tier)
		}
	}

	if cfg.Polling.RequestsPerSecond < 0 {
		return fmt.Errorf("polling.requests_per_second must not be negative")
	}

	if cfg.Cache.Enabled {
		if cfg.Cache.Addr == "" {
			return fmt.Errorf("cache.addr is required when the cache is enabled")
		}
		switch cfg.Cache.WritePolicy {
		case "", "always", "on_change":
		default:
			return fmt.Errorf("cache.write_policy '%s' is invalid", cfg.Cache.WritePolicy)
		}
	}

	if cfg.Storage.Recorder.Enabled && !cfg.Storage.S3.Enabled {
		return fmt.Errorf("storage.recorder requires storage.s3 to be enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
