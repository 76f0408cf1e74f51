package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/pillshop/internal/domain/pricing"
	"github.com/xenking/pillshop/internal/notify"
)

// Config holds the API server configuration, loadable from environment
// variables (PILL_ prefix), a .env file, flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PILL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	JWTSecret   string `usage:"HMAC secret for bearer tokens (PILL_JWT_SECRET)" flag:"jwt-secret"`
	Pricing     PricingConfig
	Redis       RedisConfig
	Kafka       notify.KafkaConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// PricingConfig selects how overlapping discounts are resolved.
type PricingConfig struct {
	DiscountPolicy string `default:"last" usage:"Discount tie-break: last or deepest" flag:"discount-policy"`
}

// RedisConfig enables the shipping rate cache when Addr is set.
type RedisConfig struct {
	Addr     string        `usage:"Redis address; empty disables the cache" flag:"redis-addr"`
	Password string        `usage:"Redis password" flag:"redis-password"`
	DB       int           `default:"0" usage:"Redis database" flag:"redis-db"`
	TTL      time.Duration `default:"10m" usage:"Shipping cache TTL" flag:"redis-ttl"`
}

// NotifyConfig controls how payment notifications are delivered.
type NotifyConfig struct {
	WebhookURL string        `usage:"SMS gateway webhook; empty logs messages instead" flag:"notify-webhook"`
	Timeout    time.Duration `default:"5s" usage:"Webhook request timeout" flag:"notify-timeout"`
	Workers    int           `default:"4" usage:"In-process delivery workers" flag:"notify-workers"`
	QueueSize  int           `default:"1024" usage:"In-process queue capacity" flag:"notify-queue-size"`
	Retry      notify.RetryConfig
}

// Sender returns the webhook sender when configured, otherwise a log sender.
func (c NotifyConfig) Sender() notify.Sender {
	if c.WebhookURL == "" {
		return notify.LogSender{}
	}
	return notify.NewWebhookSender(c.WebhookURL, c.Timeout)
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads the API server configuration, including flags.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	var cfg Config
	if err := load(&cfg, skipFlags); err != nil {
		return nil, err
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PILL_DATABASE_URL or DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT secret is required: set PILL_JWT_SECRET")
	}
	if _, err := pricing.ParsePolicy(cfg.Pricing.DiscountPolicy); err != nil {
		return nil, errors.Wrap(err, "pricing")
	}
	return &cfg, nil
}

// WorkerConfig configures the notification worker.
type WorkerConfig struct {
	Kafka  notify.KafkaConfig
	Notify NotifyConfig
}

// LoadWorkerConfig loads the notification worker configuration.
func LoadWorkerConfig() (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := load(&cfg, true); err != nil {
		return nil, err
	}
	if !cfg.Kafka.Enabled() {
		return nil, errors.New("kafka brokers are required: set PILL_KAFKA_BROKERS")
	}
	return &cfg, nil
}

func load(dst any, skipFlags bool) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "load .env")
	}
	loader := aconfig.LoaderFor(dst, aconfig.Config{
		EnvPrefix: "PILL",
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/pill/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return errors.Wrap(err, "load config")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL and PORT.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
