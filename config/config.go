// Package config loads runtime settings from the environment (and .env).
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AppEnv        string
	MongoURI      string
	MongoDB       string
	RedisAddr     string
	RedisPassword string
	JwtSecret     []byte

	Currency       string
	PlatformFeeBps int
	TaxBps         int

	PayoutRetryBase  time.Duration
	PayoutRetryMax   time.Duration
	PayoutBatchLimit int
	PayoutInterval   time.Duration
	PayoutLease      time.Duration

	GatewayBaseURL       string
	GatewaySecretKey     string
	GatewayWebhookSecret string
	GatewayTimeout       time.Duration
	GatewayMock          bool
	PaymentCallbackURL   string

	EventSink    string // redis, kafka or log
	KafkaBrokers []string
	KafkaTopic   string

	ReceiptSigningKey []byte
}

// Production reports whether APP_ENV is "production".
func (c Config) Production() bool {
	return c.AppEnv == "production"
}

// Load reads .env if present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found; using system environment")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests can inject values.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	c := Config{
		Port:          normalizePort(p.str("PORT", ":8080")),
		AppEnv:        p.str("APP_ENV", "development"),
		MongoURI:      p.str("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:       p.str("MONGO_DB", "agrimart"),
		RedisAddr:     p.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword: p.str("REDIS_PASSWORD", ""),
		JwtSecret:     []byte(p.str("JWT_SECRET", "")),

		Currency:       strings.ToUpper(p.str("CURRENCY", "NGN")),
		PlatformFeeBps: p.int("PLATFORM_FEE_BPS", 200),
		TaxBps:         p.int("TAX_BPS", 0),

		PayoutRetryBase:  p.duration("PAYOUT_RETRY_BASE", 5*time.Minute),
		PayoutRetryMax:   p.duration("PAYOUT_RETRY_MAX", 6*time.Hour),
		PayoutBatchLimit: p.int("PAYOUT_BATCH_LIMIT", 50),
		PayoutInterval:   p.duration("PAYOUT_INTERVAL", time.Minute),
		PayoutLease:      p.duration("PAYOUT_LEASE", 2*time.Minute),

		GatewayBaseURL:     strings.TrimRight(p.str("GATEWAY_BASE_URL", "https://api.paystack.co"), "/"),
		GatewaySecretKey:   p.str("GATEWAY_SECRET_KEY", ""),
		GatewayTimeout:     p.duration("GATEWAY_TIMEOUT", 15*time.Second),
		GatewayMock:        p.bool("GATEWAY_MOCK", false),
		PaymentCallbackURL: p.str("PAYMENT_CALLBACK_URL", ""),

		EventSink:  strings.ToLower(p.str("EVENT_SINK", "log")),
		KafkaTopic: p.str("KAFKA_TOPIC", "settlement-events"),

		ReceiptSigningKey: []byte(p.str("RECEIPT_SIGNING_KEY", "")),
	}
	c.GatewayWebhookSecret = p.str("GATEWAY_WEBHOOK_SECRET", c.GatewaySecretKey)
	if brokers := p.str("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	}
	if c.Production() {
		c.GatewayMock = false
	}
	if len(c.ReceiptSigningKey) == 0 {
		c.ReceiptSigningKey = c.JwtSecret
	}

	if p.err != nil {
		return Config{}, p.err
	}
	return c, c.validate()
}

func (c Config) validate() error {
	switch {
	case c.PlatformFeeBps < 0 || c.PlatformFeeBps > 10000:
		return fmt.Errorf("config: PLATFORM_FEE_BPS must be within 0..10000, got %d", c.PlatformFeeBps)
	case c.TaxBps < 0 || c.TaxBps > 10000:
		return fmt.Errorf("config: TAX_BPS must be within 0..10000, got %d", c.TaxBps)
	case c.PayoutRetryBase <= 0 || c.PayoutRetryMax < c.PayoutRetryBase:
		return fmt.Errorf("config: payout retry delays must satisfy 0 < base <= max")
	case c.PayoutBatchLimit <= 0:
		return fmt.Errorf("config: PAYOUT_BATCH_LIMIT must be positive")
	case c.GatewayTimeout <= 0:
		return fmt.Errorf("config: GATEWAY_TIMEOUT must be positive")
	case c.EventSink == "kafka" && len(c.KafkaBrokers) == 0:
		return fmt.Errorf("config: EVENT_SINK=kafka requires KAFKA_BROKERS")
	}
	return nil
}

func normalizePort(port string) string {
	if port != "" && port[0] != ':' {
		return ":" + port
	}
	return port
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return v
}
