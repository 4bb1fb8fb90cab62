package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Ofiflow  OfiflowConfig  `yaml:"ofiflow"`
	Source   SourceConfig   `yaml:"source"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Writer   WriterConfig   `yaml:"writer"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type OfiflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	Synthetic SyntheticConfig `yaml:"synthetic"`
}

type SyntheticConfig struct {
	Symbol       string        `yaml:"symbol"`
	Steps        int           `yaml:"steps"`
	Step         time.Duration `yaml:"step"`
	Seed         uint64        `yaml:"seed"`
	Start        time.Time     `yaml:"start"`
	MidPrice     float64       `yaml:"mid_price"`
	Volatility   float64       `yaml:"volatility"`
	Spread       float64       `yaml:"spread"`
	BookSizeMin  int64         `yaml:"book_size_min"`
	BookSizeMax  int64         `yaml:"book_size_max"`
	TradeSizeMin int64         `yaml:"trade_size_min"`
	TradeSizeMax int64         `yaml:"trade_size_max"`
	AsyncTrades  bool          `yaml:"async_trades"`
}

type PipelineConfig struct {
	Interval      time.Duration `yaml:"interval"`
	WindowShort   int           `yaml:"window_short"`
	WindowLong    int           `yaml:"window_long"`
	Horizon       int           `yaml:"horizon"`
	Threshold     float64       `yaml:"threshold"`
	ZeroMidPolicy string        `yaml:"zero_mid_policy"`
}

type WriterConfig struct {
	OutputDir    string             `yaml:"output_dir"`
	Formats      FormatsConfig      `yaml:"formats"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
	CSV     CSVConfig     `yaml:"csv"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
}

type CSVConfig struct {
	Enabled bool `yaml:"enabled"`
}

type PartitioningConfig struct {
	TimeFormat     string   `yaml:"time_format"`
	AdditionalKeys []string `yaml:"additional_keys"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled           bool    `yaml:"enabled"`
	Bucket            string  `yaml:"bucket"`
	Region            string  `yaml:"region"`
	Endpoint          string  `yaml:"endpoint"`
	PathStyle         bool    `yaml:"path_style"`
	Prefix            string  `yaml:"prefix"`
	AccessKeyID       string  `yaml:"access_key_id"`
	SecretAccessKey   string  `yaml:"secret_access_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type MetricsConfig struct {
	PrometheusAddr string           `yaml:"prometheus_addr"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used when a key is missing from the
// file. Generator and pipeline values match the reference research setup.
func Default() Config {
	return Config{
		Ofiflow: OfiflowConfig{Name: "ofiflow", Version: "dev"},
		Source: SourceConfig{
			Synthetic: SyntheticConfig{
				Symbol:       "SYNTH",
				Steps:        10_000,
				Step:         time.Second,
				Seed:         42,
				Start:        time.Date(2025, 1, 1, 9, 30, 30, 0, time.UTC),
				MidPrice:     100.0,
				Volatility:   0.01,
				Spread:       0.02,
				BookSizeMin:  10,
				BookSizeMax:  100,
				TradeSizeMin: 1,
				TradeSizeMax: 50,
			},
		},
		Pipeline: PipelineConfig{
			Interval:      time.Second,
			WindowShort:   5,
			WindowLong:    20,
			Horizon:       10,
			Threshold:     0.0001,
			ZeroMidPolicy: "fail",
		},
		Writer: WriterConfig{
			OutputDir: "data",
			Formats: FormatsConfig{
				Parquet: ParquetConfig{Enabled: true, Compression: "snappy"},
			},
			Partitioning: PartitioningConfig{
				TimeFormat:     "{year}/{month}/{day}/{hour}",
				AdditionalKeys: []string{"symbol"},
			},
		},
		Storage: StorageConfig{
			S3: S3Config{RequestsPerSecond: 5, Burst: 1},
		},
		Metrics: MetricsConfig{
			CloudWatch: CloudWatchConfig{Namespace: "Ofiflow", Dashboard: "Ofiflow"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return nil, err
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) error {
	if v := os.Getenv("OFIFLOW_SEED"); v != "" {
		seed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid OFIFLOW_SEED %q: %w", v, err)
		}
		config.Source.Synthetic.Seed = seed
	}

	// Override S3 settings from environment variables if available
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
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Ofiflow.Name == "" {
		return fmt.Errorf("ofiflow.name is required")
	}
	if cfg.Ofiflow.Version == "" {
		return fmt.Errorf("ofiflow.version is required")
	}

	syn := cfg.Source.Synthetic
	if syn.Steps <= 0 {
		return fmt.Errorf("source.synthetic.steps must be greater than 0")
	}
	if syn.Step <= 0 {
		return fmt.Errorf("source.synthetic.step must be greater than 0")
	}
	if syn.MidPrice <= 0 {
		return fmt.Errorf("source.synthetic.mid_price must be greater than 0")
	}
	if syn.Volatility < 0 || syn.Spread < 0 {
		return fmt.Errorf("source.synthetic.volatility and source.synthetic.spread must not be negative")
	}
	if syn.BookSizeMin < 0 || syn.BookSizeMax <= syn.BookSizeMin {
		return fmt.Errorf("source.synthetic.book_size_max must be greater than book_size_min >= 0")
	}
	if syn.TradeSizeMin <= 0 || syn.TradeSizeMax <= syn.TradeSizeMin {
		return fmt.Errorf("source.synthetic.trade_size_max must be greater than trade_size_min > 0")
	}

	if cfg.Pipeline.Interval <= 0 {
		return fmt.Errorf("pipeline.interval must be greater than 0")
	}
	if cfg.Pipeline.WindowShort <= 0 {
		return fmt.Errorf("pipeline.window_short must be greater than 0")
	}
	if cfg.Pipeline.WindowLong <= 0 {
		return fmt.Errorf("pipeline.window_long must be greater than 0")
	}
	if cfg.Pipeline.Horizon <= 0 {
		return fmt.Errorf("pipeline.horizon must be greater than 0")
	}
	if cfg.Pipeline.Threshold < 0 {
		return fmt.Errorf("pipeline.threshold must not be negative")
	}
	cfg.Pipeline.ZeroMidPolicy = strings.ToLower(strings.TrimSpace(cfg.Pipeline.ZeroMidPolicy))
	switch cfg.Pipeline.ZeroMidPolicy {
	case "", "fail", "absent":
	default:
		return fmt.Errorf("pipeline.zero_mid_policy must be 'fail' or 'absent'")
	}

	switch cfg.Writer.Formats.Parquet.Compression {
	case "", "snappy", "gzip", "uncompressed":
	default:
		return fmt.Errorf("writer.formats.parquet.compression '%s' is not supported", cfg.Writer.Formats.Parquet.Compression)
	}
	// parquet timestamps are stored in microseconds
	if cfg.Writer.Formats.Parquet.Enabled && cfg.Pipeline.Interval%time.Microsecond != 0 {
		return fmt.Errorf("pipeline.interval must be a whole number of microseconds when parquet output is enabled, got %s", cfg.Pipeline.Interval)
	}
	if cfg.Writer.OutputDir == "" && !cfg.Storage.S3.Enabled {
		return fmt.Errorf("writer.output_dir is required when S3 is disabled")
	}
	for _, k := range cfg.Writer.Partitioning.AdditionalKeys {
		if k != "symbol" && k != "run_id" {
			return fmt.Errorf("writer.partitioning.additional_keys: unknown key '%s'", k)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Storage.S3.RequestsPerSecond <= 0 {
			return fmt.Errorf("storage.s3.requests_per_second must be greater than 0")
		}
		if cfg.Storage.S3.Burst <= 0 {
			return fmt.Errorf("storage.s3.burst must be greater than 0")
		}
		if !cfg.Writer.Formats.Parquet.Enabled && !cfg.Writer.Formats.CSV.Enabled {
			return fmt.Errorf("storage.s3 is enabled but no writer format is enabled")
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
