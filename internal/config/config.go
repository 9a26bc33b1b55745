package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration, shared by the record store
// server and the pocket CLI.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Client   ClientConfig   `mapstructure:"client"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the metadata database configuration.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// StorageConfig holds the blob store configuration.
type StorageConfig struct {
	BlobDir string `mapstructure:"blob_dir"`
}

// AnalyzerConfig selects and configures the image-understanding backend.
type AnalyzerConfig struct {
	Provider    string        `mapstructure:"provider"` // gemini or openai
	GeminiKey   string        `mapstructure:"gemini_api_key"`
	GeminiModel string        `mapstructure:"gemini_model"`
	OpenAIKey   string        `mapstructure:"openai_api_key"`
	OpenAIModel string        `mapstructure:"openai_model"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// AuthConfig holds the shared role passwords.
type AuthConfig struct {
	AdminPassword  string `mapstructure:"admin_password"`
	ViewerPassword string `mapstructure:"viewer_password"`
}

// ClientConfig holds the pocket CLI configuration.
type ClientConfig struct {
	APIURL    string        `mapstructure:"api_url"`
	StorePath string        `mapstructure:"store_path"`
	Language  string        `mapstructure:"language"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8787)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/receipts.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// Storage defaults
	viper.SetDefault("storage.blob_dir", "data/blobs")

	// Analyzer defaults
	viper.SetDefault("analyzer.provider", "gemini")
	viper.SetDefault("analyzer.gemini_model", "gemini-1.5-flash")
	viper.SetDefault("analyzer.openai_model", "gpt-4o")
	viper.SetDefault("analyzer.timeout", 60*time.Second)

	// Auth defaults match the web client's built-in passwords
	viper.SetDefault("auth.viewer_password", "1234")
	viper.SetDefault("auth.admin_password", "5678")

	// Client defaults
	viper.SetDefault("client.store_path", "data/pocket.db")
	viper.SetDefault("client.language", "ja")
	viper.SetDefault("client.timeout", 30*time.Second)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration.
func bindEnvVars() {
	viper.BindEnv("analyzer.gemini_api_key", "GEMINI_API_KEY")
	viper.BindEnv("analyzer.openai_api_key", "OPENAI_API_KEY")
	viper.BindEnv("client.api_url", "SYNC_API_URL")
	viper.BindEnv("auth.admin_password", "POCKET_ADMIN_PASSWORD")
	viper.BindEnv("auth.viewer_password", "POCKET_VIEWER_PASSWORD")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.BlobDir == "" {
		return fmt.Errorf("storage.blob_dir is required")
	}

	switch c.Analyzer.Provider {
	case "gemini", "openai", "":
	default:
		return fmt.Errorf("analyzer.provider must be gemini or openai, got %q", c.Analyzer.Provider)
	}

	if c.Auth.AdminPassword == "" {
		return fmt.Errorf("auth.admin_password is required")
	}
	if c.Auth.ViewerPassword == "" {
		return fmt.Errorf("auth.viewer_password is required")
	}

	return nil
}
