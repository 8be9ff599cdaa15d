package config

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	AppEnv     string `mapstructure:"APP_ENV"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	DBHost          string `mapstructure:"DB_HOST"`
	DBPort          string `mapstructure:"DB_PORT"`
	DBUser          string `mapstructure:"DB_USER"`
	DBPassword      string `mapstructure:"DB_PASSWORD"`
	DBName          string `mapstructure:"DB_NAME"`
	DBSchema        string `mapstructure:"DB_SCHEMA"`
	DBSSLMode       string `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns  int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBRunMigrations bool   `mapstructure:"DB_RUN_MIGRATIONS"`

	PaymentAPIBaseURL     string `mapstructure:"PAYMENT_API_BASE_URL"`
	PaymentAccessToken    string `mapstructure:"PAYMENT_ACCESS_TOKEN"`
	PaymentWebhookSecret  string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	PaymentTimeoutSeconds int    `mapstructure:"PAYMENT_TIMEOUT_SECONDS"`
	PublicBaseURL         string `mapstructure:"PUBLIC_BASE_URL"`
	DefaultCurrency       string `mapstructure:"DEFAULT_CURRENCY"`

	JWTSecret string `mapstructure:"JWT_SECRET"`
	JWTIssuer string `mapstructure:"JWT_ISSUER"`

	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange string `mapstructure:"NOTIFICATION_EXCHANGE"`

	RedisURL               string `mapstructure:"REDIS_URL"`
	WebhookDedupTTLMinutes int    `mapstructure:"WEBHOOK_DEDUP_TTL_MINUTES"`

	OrderAbandonAfterMinutes int    `mapstructure:"ORDER_ABANDON_AFTER_MINUTES"`
	SweepSchedule            string `mapstructure:"SWEEP_SCHEDULE"`

	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

var keys = []string{
	"SERVER_PORT", "APP_ENV", "LOG_LEVEL",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SCHEMA", "DB_SSLMODE",
	"DB_MAX_OPEN_CONNS", "DB_RUN_MIGRATIONS",
	"PAYMENT_API_BASE_URL", "PAYMENT_ACCESS_TOKEN", "PAYMENT_WEBHOOK_SECRET", "PAYMENT_TIMEOUT_SECONDS",
	"PUBLIC_BASE_URL", "DEFAULT_CURRENCY",
	"JWT_SECRET", "JWT_ISSUER",
	"RABBITMQ_URL", "NOTIFICATION_EXCHANGE",
	"REDIS_URL", "WEBHOOK_DEDUP_TTL_MINUTES",
	"ORDER_ABANDON_AFTER_MINUTES", "SWEEP_SCHEDULE",
	"CORS_ALLOWED_ORIGINS",
}

// LoadConfig reads configuration from the environment. A .env file in the
// working directory is loaded first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SCHEMA", "public")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_RUN_MIGRATIONS", true)
	viper.SetDefault("PAYMENT_TIMEOUT_SECONDS", 10)
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	viper.SetDefault("DEFAULT_CURRENCY", "USD")
	viper.SetDefault("JWT_ISSUER", "academy")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "academy.notifications")
	viper.SetDefault("WEBHOOK_DEDUP_TTL_MINUTES", 60)
	viper.SetDefault("ORDER_ABANDON_AFTER_MINUTES", 30)
	viper.SetDefault("SWEEP_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.AutomaticEnv()

	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.normalize(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) normalize() error {
	if c.PaymentTimeoutSeconds <= 0 {
		c.PaymentTimeoutSeconds = 10
	}
	if c.WebhookDedupTTLMinutes <= 0 {
		c.WebhookDedupTTLMinutes = 60
	}
	if c.OrderAbandonAfterMinutes <= 0 {
		c.OrderAbandonAfterMinutes = 30
	}
	if c.DBMaxOpenConns <= 0 {
		c.DBMaxOpenConns = 25
	}
	c.DefaultCurrency = strings.ToUpper(c.DefaultCurrency)

	if !c.IsProduction() {
		return nil
	}
	var missing []string
	if c.PaymentWebhookSecret == "" {
		missing = append(missing, "PAYMENT_WEBHOOK_SECRET")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// DatabaseURL builds the postgres DSN with credentials escaped.
func (c *Config) DatabaseURL() string {
	query := url.Values{}
	query.Set("sslmode", c.DBSSLMode)
	query.Set("search_path", c.DBSchema)
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: query.Encode(),
	}
	return dsn.String()
}

func (c *Config) PaymentTimeout() time.Duration {
	return time.Duration(c.PaymentTimeoutSeconds) * time.Second
}

func (c *Config) WebhookDedupTTL() time.Duration {
	return time.Duration(c.WebhookDedupTTLMinutes) * time.Minute
}

func (c *Config) OrderAbandonAfter() time.Duration {
	return time.Duration(c.OrderAbandonAfterMinutes) * time.Minute
}

func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
