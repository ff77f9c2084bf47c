package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the nova binary.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Deferred DeferredConfig `yaml:"deferred"`
	Loyalty  LoyaltyConfig  `yaml:"loyalty"`
	Log      LogConfig      `yaml:"log"`
	Seed     SeedConfig     `yaml:"seed"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	UseTLS   bool   `yaml:"tls"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	WebhookSecret string `yaml:"webhook_secret"`
}

const (
	ProviderMock    = "mock"
	ProviderSandbox = "sandbox"
	ProviderReal    = "real"
)

type GatewayConfig struct {
	Provider      string        `yaml:"provider"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	TargetOutcome string        `yaml:"target_outcome"`
	Processor     string        `yaml:"processor"`
}

type DeferredConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Delay        time.Duration `yaml:"delay"`
	TargetStatus string        `yaml:"target_status"`
	DelayQueue   string        `yaml:"delay_queue"`
	ReadyQueue   string        `yaml:"ready_queue"`
	Prefetch     int           `yaml:"prefetch"`
	// RetryDelay is the pause before a job that failed transiently goes back
	// on the ready queue.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Jobs the worker rejects are routed through DeadLetterExchange into
	// DeadLetterQueue.
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
	DeadLetterQueue    string `yaml:"dead_letter_queue"`
}

type LoyaltyConfig struct {
	EarnRate        string `yaml:"earn_rate"`
	MinRedeemPoints int64  `yaml:"min_redeem_points"`
}

// Rate returns the parsed earn rate. Validate guarantees it parses.
func (l LoyaltyConfig) Rate() decimal.Decimal {
	d, err := decimal.NewFromString(l.EarnRate)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return d
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SeedConfig is the offline catalog loaded into the memory store.
type SeedConfig struct {
	Tenants []SeedTenant `yaml:"tenants"`
}

type SeedTenant struct {
	ID        string         `yaml:"id"`
	Locations []SeedLocation `yaml:"locations"`
	Menu      []SeedMenuItem `yaml:"menu"`
}

type SeedLocation struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Default bool   `yaml:"default"`
}

type SeedMenuItem struct {
	ID     string      `yaml:"id"`
	Name   string      `yaml:"name"`
	Prices []SeedPrice `yaml:"prices"`
}

type SeedPrice struct {
	LocationID string `yaml:"location_id"`
	Price      string `yaml:"price"`
	Currency   string `yaml:"currency"`
	TaxRate    string `yaml:"tax_rate"`
}

// Default returns a config that runs fully offline: memory store, mock
// gateway, no broker.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            3000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   DriverMemory,
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
			MaxConns: 10,
		},
		RabbitMQ: RabbitMQConfig{Host: "localhost", Port: 5672, VHost: "/"},
		Gateway: GatewayConfig{
			Provider:      ProviderMock,
			Timeout:       5 * time.Second,
			TargetOutcome: "completed",
		},
		Deferred: DeferredConfig{
			Delay:              30 * time.Second,
			TargetStatus:       "completed",
			DelayQueue:         "settlement.delay",
			ReadyQueue:         "settlement.ready",
			DeadLetterExchange: "settlement.dlx",
			DeadLetterQueue:    "settlement.dlq",
			Prefetch:           1,
			RetryDelay:         time.Second,
		},
		Loyalty: LoyaltyConfig{EarnRate: "1", MinRedeemPoints: 0},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults, then applies .env and NOVA_* overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("couldn't open the configuration file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("error reading %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfig returns the first config file present in the usual places.
func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "config.yml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs *multierror.Error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	num("NOVA_HTTP_PORT", &cfg.HTTP.Port)

	str("NOVA_DB_DRIVER", &cfg.Database.Driver)
	str("NOVA_DB_HOST", &cfg.Database.Host)
	num("NOVA_DB_PORT", &cfg.Database.Port)
	str("NOVA_DB_USER", &cfg.Database.User)
	str("NOVA_DB_PASSWORD", &cfg.Database.Password)
	str("NOVA_DB_NAME", &cfg.Database.Database)
	str("NOVA_DB_SSLMODE", &cfg.Database.SSLMode)

	str("NOVA_RABBITMQ_HOST", &cfg.RabbitMQ.Host)
	num("NOVA_RABBITMQ_PORT", &cfg.RabbitMQ.Port)
	str("NOVA_RABBITMQ_USER", &cfg.RabbitMQ.User)
	str("NOVA_RABBITMQ_PASSWORD", &cfg.RabbitMQ.Password)

	str("NOVA_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("NOVA_WEBHOOK_SECRET", &cfg.Auth.WebhookSecret)

	str("NOVA_GATEWAY_PROVIDER", &cfg.Gateway.Provider)
	str("NOVA_GATEWAY_BASE_URL", &cfg.Gateway.BaseURL)
	str("NOVA_GATEWAY_API_KEY", &cfg.Gateway.APIKey)
	dur("NOVA_GATEWAY_TIMEOUT", &cfg.Gateway.Timeout)
	str("NOVA_GATEWAY_TARGET_OUTCOME", &cfg.Gateway.TargetOutcome)

	flag("NOVA_DEFERRED_ENABLED", &cfg.Deferred.Enabled)
	dur("NOVA_DEFERRED_DELAY", &cfg.Deferred.Delay)

	str("NOVA_LOG_LEVEL", &cfg.Log.Level)
	str("NOVA_LOG_FORMAT", &cfg.Log.Format)

	return errs.ErrorOrNil()
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	add := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		add("http.port %d out of range", c.HTTP.Port)
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Database == "" {
			add("database config incomplete: host, user and database are required")
		}
	default:
		add("database.driver %q: want postgres or memory", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		add("auth.jwt_secret is required")
	}
	if c.Auth.WebhookSecret == "" {
		add("auth.webhook_secret is required")
	}

	switch c.Gateway.Provider {
	case ProviderMock:
	case ProviderSandbox, ProviderReal:
		if c.Gateway.BaseURL == "" {
			add("gateway.base_url is required for provider %q", c.Gateway.Provider)
		}
		if c.Gateway.Timeout <= 0 {
			add("gateway.timeout must be positive")
		}
	default:
		add("gateway.provider %q: want mock, sandbox or real", c.Gateway.Provider)
	}
	// The memory store serializes every transaction, processor calls
	// included. It is for mock and sandbox runs only.
	if c.Database.Driver == DriverMemory && c.Gateway.Provider == ProviderReal {
		add("gateway.provider %q needs database.driver=postgres", c.Gateway.Provider)
	}
	switch c.Gateway.TargetOutcome {
	case "completed", "pending", "failed":
	default:
		add("gateway.target_outcome %q: want completed, pending or failed", c.Gateway.TargetOutcome)
	}

	if c.Deferred.Enabled {
		switch c.Deferred.TargetStatus {
		case "completed", "failed":
		default:
			add("deferred.target_status %q: want completed or failed", c.Deferred.TargetStatus)
		}
		if c.Deferred.Delay < 0 {
			add("deferred.delay must not be negative")
		}
		if c.Deferred.RetryDelay < 0 {
			add("deferred.retry_delay must not be negative")
		}
		if strings.TrimSpace(c.Deferred.DelayQueue) == "" || strings.TrimSpace(c.Deferred.ReadyQueue) == "" ||
			strings.TrimSpace(c.Deferred.DeadLetterExchange) == "" || strings.TrimSpace(c.Deferred.DeadLetterQueue) == "" {
			add("deferred queue and dead-letter names are required")
		}
	}

	if r, err := decimal.NewFromString(c.Loyalty.EarnRate); err != nil {
		add("loyalty.earn_rate %q: %v", c.Loyalty.EarnRate, err)
	} else if !r.IsPositive() {
		add("loyalty.earn_rate must be positive")
	}
	if c.Loyalty.MinRedeemPoints < 0 {
		add("loyalty.min_redeem_points must not be negative")
	}

	for i, t := range c.Seed.Tenants {
		if _, err := uuid.Parse(t.ID); err != nil {
			add("seed.tenants[%d].id: %v", i, err)
		}
		defaults := 0
		for j, l := range t.Locations {
			if _, err := uuid.Parse(l.ID); err != nil {
				add("seed.tenants[%d].locations[%d].id: %v", i, j, err)
			}
			if l.Default {
				defaults++
			}
		}
		if len(t.Locations) > 0 && defaults != 1 {
			add("seed.tenants[%d] needs exactly one default location, has %d", i, defaults)
		}
		for j, m := range t.Menu {
			if _, err := uuid.Parse(m.ID); err != nil {
				add("seed.tenants[%d].menu[%d].id: %v", i, j, err)
			}
			for k, p := range m.Prices {
				if _, err := uuid.Parse(p.LocationID); err != nil {
					add("seed.tenants[%d].menu[%d].prices[%d].location_id: %v", i, j, k, err)
				}
				if _, err := decimal.NewFromString(p.Price); err != nil {
					add("seed.tenants[%d].menu[%d].prices[%d].price: %v", i, j, k, err)
				}
				if p.TaxRate != "" {
					if _, err := decimal.NewFromString(p.TaxRate); err != nil {
						add("seed.tenants[%d].menu[%d].prices[%d].tax_rate: %v", i, j, k, err)
					}
				}
			}
		}
	}

	return errs.ErrorOrNil()
}
