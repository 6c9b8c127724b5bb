package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Embedding
	EmbeddingModel       string `mapstructure:"embedding_model"`
	EmbeddingDims        int    `mapstructure:"embedding_dims"`
	EmbeddingConcurrency int    `mapstructure:"embedding_concurrency"`
	EmbeddingMaxRetries  int    `mapstructure:"embedding_max_retries"`

	// Clustering
	MinTopicSize      int     `mapstructure:"min_topic_size"`
	MinDF             int     `mapstructure:"min_df"`
	MaxDF             float64 `mapstructure:"max_df"`
	ReduceDims        int     `mapstructure:"reduce_dims"`
	Reduction         string  `mapstructure:"reduction"`
	Seed              int64   `mapstructure:"seed"`
	ClusterMaxRetries int     `mapstructure:"cluster_max_retries"`

	// Reconciliation
	Decay               float64 `mapstructure:"decay"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	TieEpsilon          float64 `mapstructure:"tie_epsilon"`
	TopicTermsTopN      int     `mapstructure:"topic_terms_top_n"`

	// Upstream fetcher settings, carried for the ingest job
	PageSize int `mapstructure:"page_size"`
	MaxPages int `mapstructure:"max_pages"`

	StoreTimeout string `mapstructure:"store_timeout"`
	LockTTL      string `mapstructure:"lock_ttl"`

	Gemini   Gemini   `mapstructure:"gemini"`
	Database Database `mapstructure:"database"`
	State    State    `mapstructure:"state"`
	Server   Server   `mapstructure:"server"`
	Logging  Logging  `mapstructure:"logging"`
}

// Gemini holds the embedding API credentials
type Gemini struct {
	APIKey string `mapstructure:"api_key"`
}

// Database holds store configuration
type Database struct {
	Driver string `mapstructure:"driver"` // postgres or sqlite3
	URL    string `mapstructure:"url"`
}

// State holds topic model snapshot configuration
type State struct {
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// Server holds read API configuration
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxConnections  int           `mapstructure:"max_connections"` // 0 means unlimited
	CORSOrigins     []string      `mapstructure:"cors_origins"`    // Empty disables CORS
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Supported store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var (
	globalConfig *Config
	v            = viper.New()
)

// Load loads the configuration from defaults, config file, .env and environment
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.SetConfigName(".topicflow")
		v.SetConfigType("yaml")
	}

	setDefaults()

	v.SetEnvPrefix("TOPICFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvironmentVariables()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Set overrides a single key before Load. Used by command flags.
func Set(key string, value any) {
	v.Set(key, value)
}

// setDefaults sets default configuration values
func setDefaults() {
	v.SetDefault("embedding_model", "gemini-embedding-001")
	v.SetDefault("embedding_dims", 768)
	v.SetDefault("embedding_concurrency", 4)
	v.SetDefault("embedding_max_retries", 3)

	v.SetDefault("min_topic_size", 15)
	v.SetDefault("min_df", 5)
	v.SetDefault("max_df", 0.9)
	v.SetDefault("reduce_dims", 5)
	v.SetDefault("reduction", "pca")
	v.SetDefault("seed", 42)
	v.SetDefault("cluster_max_retries", 2)

	v.SetDefault("decay", 0.01)
	v.SetDefault("similarity_threshold", 0.80)
	v.SetDefault("tie_epsilon", 1e-6)
	v.SetDefault("topic_terms_top_n", 10)

	v.SetDefault("page_size", 100)
	v.SetDefault("max_pages", 200)

	v.SetDefault("store_timeout", "60s")
	v.SetDefault("lock_ttl", "6h")

	v.SetDefault("gemini.api_key", "")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.url", "topicflow.db")

	v.SetDefault("state.snapshot_path", "state/topic_model.json")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_connections", 256)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// bindEnvironmentVariables binds the conventional unprefixed variables
func bindEnvironmentVariables() {
	bindEnvKeys("gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_API_KEY",
	})

	bindEnvKeys("database.url", []string{
		"DATABASE_URL",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			v.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.State.SnapshotPath != "" {
		config.State.SnapshotPath = expandPath(config.State.SnapshotPath)
	}

	if config.Database.Driver == "" {
		config.Database.Driver = inferDriver(config.Database.URL)
	}
	if config.Database.Driver == DriverSQLite {
		config.Database.URL = expandPath(config.Database.URL)
	}

	config.Reduction = strings.ToLower(strings.TrimSpace(config.Reduction))
	config.Logging.Format = strings.ToLower(strings.TrimSpace(config.Logging.Format))

	durations := map[string]string{
		"store_timeout": config.StoreTimeout,
		"lock_ttl":      config.LockTTL,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

func inferDriver(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures the configuration is usable
func validateConfig(config *Config) error {
	var errors []string

	if config.EmbeddingModel == "" {
		errors = append(errors, "embedding_model is required")
	}
	if config.EmbeddingDims <= 0 {
		errors = append(errors, "embedding_dims must be positive")
	}
	if config.EmbeddingConcurrency <= 0 {
		errors = append(errors, "embedding_concurrency must be positive")
	}
	if config.EmbeddingMaxRetries < 0 || config.ClusterMaxRetries < 0 {
		errors = append(errors, "retry counts must not be negative")
	}
	if config.MinTopicSize < 2 {
		errors = append(errors, "min_topic_size must be at least 2")
	}
	if config.MinDF < 1 {
		errors = append(errors, "min_df must be at least 1")
	}
	if config.MaxDF <= 0 {
		errors = append(errors, "max_df must be positive")
	}
	if config.Decay < 0 || config.Decay > 1 {
		errors = append(errors, "decay must be within [0, 1]")
	}
	if config.SimilarityThreshold < -1 || config.SimilarityThreshold > 1 {
		errors = append(errors, "similarity_threshold must be within [-1, 1]")
	}
	if config.TieEpsilon < 0 {
		errors = append(errors, "tie_epsilon must not be negative")
	}
	if config.TopicTermsTopN <= 0 {
		errors = append(errors, "topic_terms_top_n must be positive")
	}
	if config.Server.MaxConnections < 0 {
		errors = append(errors, "server.max_connections must not be negative")
	}
	if config.ReduceDims <= 0 {
		errors = append(errors, "reduce_dims must be positive")
	}
	switch config.Reduction {
	case "pca", "random":
	default:
		errors = append(errors, fmt.Sprintf("Unknown reduction: %s. Supported: pca, random", config.Reduction))
	}
	switch config.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: postgres, sqlite3", config.Database.Driver))
	}
	if config.Database.URL == "" {
		errors = append(errors, "database url is required. Set DATABASE_URL or database.url in config file")
	}
	if strings.HasPrefix(config.EmbeddingModel, "gemini") && !isValidAPIKey(config.Gemini.APIKey) {
		errors = append(errors, "Gemini API key is required for Gemini embedding models. Set GEMINI_API_KEY or GOOGLE_API_KEY, or use embedding_model: hashing-v1 for offline runs")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// isValidAPIKey checks if an API key is valid (not empty and not a placeholder)
func isValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-gemini-key", "YOUR_API_KEY", "PLACEHOLDER", "TODO", "CHANGE_ME",
	}

	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}

	return true
}

// StoreTimeoutDuration returns the parsed store_timeout
func (c *Config) StoreTimeoutDuration() time.Duration {
	return mustDuration(c.StoreTimeout, 60*time.Second)
}

// LockTTLDuration returns the parsed lock_ttl
func (c *Config) LockTTLDuration() time.Duration {
	return mustDuration(c.LockTTL, 6*time.Hour)
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ServerAddr returns host:port for the read API
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Convenience getters for commonly used configuration values
func GetDatabase() Database { return Get().Database }
func GetLogging() Logging   { return Get().Logging }
func GetServer() Server     { return Get().Server }

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	v = viper.New()
}
