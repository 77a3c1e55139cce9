package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Payments   PaymentsConfig   `mapstructure:"payments"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Notify     NotifyConfig     `mapstructure:"notifications"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// PaymentsConfig contains payment custodian configuration. Payments are
// considered enabled only when Enabled is true and both the endpoint and
// the API key are present.
type PaymentsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	LNBitsURL      string        `mapstructure:"lnbits_url"`
	LNBitsKey      string        `mapstructure:"lnbits_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RelayPriceSats int64         `mapstructure:"relay_price_sats"`
	InvoiceMemo    string        `mapstructure:"invoice_memo"`
}

// Active reports whether the reconciler has everything it needs to talk
// to the custodian. Missing credentials disable payments without error.
func (p *PaymentsConfig) Active() bool {
	return p.Enabled && p.LNBitsURL != "" && p.LNBitsKey != ""
}

// ReconcilerConfig contains settlement reconciliation configuration
type ReconcilerConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	CustodianTimeout time.Duration `mapstructure:"custodian_timeout"`
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	ChallengeTTL time.Duration `mapstructure:"challenge_ttl"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// NotifyConfig contains provisioning notification configuration
type NotifyConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	PublicURL     string        `mapstructure:"public_url"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	viper.SetEnvPrefix("RELAY_PROVISIONER")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if key := os.Getenv("LNBITS_ADMIN_KEY"); key != "" {
		config.Payments.LNBitsKey = key
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "relay-provisioner")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Payments defaults
	viper.SetDefault("payments.enabled", false)
	viper.SetDefault("payments.lnbits_url", "")
	viper.SetDefault("payments.request_timeout", "10s")
	viper.SetDefault("payments.relay_price_sats", 21000)
	viper.SetDefault("payments.invoice_memo", "relay provisioning")

	// Reconciler defaults
	viper.SetDefault("reconciler.poll_interval", "10s")
	viper.SetDefault("reconciler.custodian_timeout", "10s")

	// Auth defaults
	viper.SetDefault("auth.session_ttl", "24h")
	viper.SetDefault("auth.challenge_ttl", "2m")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/provisioner.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Notification defaults
	viper.SetDefault("notifications.enabled", true)
	viper.SetDefault("notifications.webhook_timeout", "10s")
	viper.SetDefault("notifications.max_retries", 3)
	viper.SetDefault("notifications.retry_delay", "5s")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.public_url", "")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Storage.Type != "sqlite" && c.Storage.Type != "postgres" {
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Reconciler.PollInterval <= 0 {
		return fmt.Errorf("reconciler poll interval must be positive")
	}
	if c.Payments.Enabled && c.Payments.LNBitsURL == "" {
		return fmt.Errorf("payments enabled but lnbits_url is not set")
	}
	if c.Auth.JWTSecret == "" && c.App.Environment == "production" {
		return fmt.Errorf("jwt_secret is required in production")
	}
	return nil
}
