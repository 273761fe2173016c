package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/proximity-cli/internal/geo"
)

// Config holds the full application configuration.
type Config struct {
	Env      string         `yaml:"env" mapstructure:"env"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Google   GoogleConfig   `yaml:"google" mapstructure:"google"`
	Backfill BackfillConfig `yaml:"backfill" mapstructure:"backfill"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the index backend.
type StoreConfig struct {
	Driver      string          `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string          `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string          `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	PostGIS     bool            `yaml:"postgis" mapstructure:"postgis"`
	MaxConns    int32           `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32           `yaml:"min_conns" mapstructure:"min_conns"`
	Firestore   FirestoreConfig `yaml:"firestore" mapstructure:"firestore"`
	DynamoDB    DynamoDBConfig  `yaml:"dynamodb" mapstructure:"dynamodb"`
}

// FirestoreConfig configures the Firestore backend.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	Collection      string `yaml:"collection" mapstructure:"collection"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// DynamoDBConfig configures the DynamoDB backend.
type DynamoDBConfig struct {
	Table    string `yaml:"table" mapstructure:"table"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// SearchConfig configures the radius ladder and bucket planning.
type SearchConfig struct {
	Tiers []float64 `yaml:"tiers" mapstructure:"tiers"`
	Unit  string    `yaml:"unit" mapstructure:"unit"`
	// PrecisionTable overrides the built-in thresholds. Radii are in Unit.
	PrecisionTable      geo.PrecisionTable `yaml:"precision_table" mapstructure:"precision_table"`
	ProviderTimeoutSecs int                `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	BucketConcurrency   int                `yaml:"bucket_concurrency" mapstructure:"bucket_concurrency"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Query      string  `yaml:"query" mapstructure:"query"`
	Radius     float64 `yaml:"radius" mapstructure:"radius"`
	MaxResults int     `yaml:"max_results" mapstructure:"max_results"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`

	RetryAttempts        int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	CircuitThreshold     int `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetTimeSecs int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// BackfillConfig configures candidate eligibility.
type BackfillConfig struct {
	EligibleAttribute string   `yaml:"eligible_attribute" mapstructure:"eligible_attribute"`
	EligibleValues    []string `yaml:"eligible_values" mapstructure:"eligible_values"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
	// RequestTimeoutSecs bounds each search request. Zero disables it.
	RequestTimeoutSecs  int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml, an optional
// config.<env>.yaml overlay, and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROXIMITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "proximity.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.firestore.collection", "entities")
	v.SetDefault("store.dynamodb.table", "entities")
	v.SetDefault("search.tiers", []float64{2, 4, 8, 16, 32})
	v.SetDefault("search.unit", "miles")
	v.SetDefault("search.provider_timeout_secs", 10)
	v.SetDefault("search.bucket_concurrency", 9)
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.query", "CVS Pharmacy")
	v.SetDefault("google.radius", 16)
	v.SetDefault("google.max_results", 20)
	v.SetDefault("google.rate_per_sec", 5)
	v.SetDefault("google.burst", 5)
	v.SetDefault("google.retry_attempts", 2)
	v.SetDefault("google.circuit_threshold", 5)
	v.SetDefault("google.circuit_reset_secs", 30)
	v.SetDefault("backfill.eligible_attribute", "name")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	// Per-environment overlay (optional)
	if env := v.GetString("env"); env != "" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, eris.Wrapf(err, "config: read %s overlay", env)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
