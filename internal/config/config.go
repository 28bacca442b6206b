// Package config loads navmetrics.yaml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simaogato/navmetrics-backend/internal/adapter/provider/mfapi"
	"github.com/simaogato/navmetrics-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/navmetrics-backend/internal/domain"
	"github.com/simaogato/navmetrics-backend/internal/logging"
	"github.com/simaogato/navmetrics-backend/internal/telemetry"
	"github.com/simaogato/navmetrics-backend/internal/usecase/pipeline"
)

// Config is the full process configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Provider   ProviderConfig   `yaml:"provider"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Categories CategoriesConfig `yaml:"categories"`
	Logging    logging.Config   `yaml:"logging"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig locates Postgres; ConnString wins over the individual fields
type DatabaseConfig struct {
	ConnString      string        `yaml:"conn_string"`
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// BreakerConfig configures the provider circuit breaker; threshold 0 disables it
type BreakerConfig struct {
	Threshold uint32        `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// ProviderConfig configures the NAV history provider client
type ProviderConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// IngestionConfig lists the schemes of the daily run
type IngestionConfig struct {
	Delay   time.Duration `yaml:"delay"`
	Schemes []string      `yaml:"schemes"`
}

// CategoriesConfig holds the ordered keyword rules and the expected-return table
// ExpectedReturns entries are merged over the built-in table
type CategoriesConfig struct {
	Rules           []domain.CategoryRule `yaml:"rules"`
	ExpectedReturns map[string]float64    `yaml:"expected_returns"`
	FallbackReturn  float64               `yaml:"fallback_return"`
}

// ServerConfig configures the admin gRPC server
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	APIToken        string        `yaml:"api_token"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	returns := make(map[string]float64)
	for c, r := range domain.DefaultExpectedReturns() {
		returns[string(c)] = r
	}
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Password:        "postgres",
			Name:            "navmetrics",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Provider: ProviderConfig{
			BaseURL:           mfapi.DefaultBaseURL,
			Timeout:           30 * time.Second,
			MaxAttempts:       3,
			BackoffBase:       time.Second,
			BackoffMultiplier: 2,
			Breaker:           BreakerConfig{Cooldown: time.Minute},
		},
		Ingestion: IngestionConfig{
			Delay:   500 * time.Millisecond,
			Schemes: append([]string(nil), pipeline.PopularSchemes...),
		},
		Categories: CategoriesConfig{
			Rules:           domain.DefaultCategoryRules(),
			ExpectedReturns: returns,
			FallbackReturn:  domain.DefaultFallbackReturn,
		},
		Logging: logging.Config{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
		},
		Telemetry: telemetry.Config{
			ServiceName:    "navmetrics",
			ExportInterval: 30 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			APIToken:        "dev-token",
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// Load reads the YAML file at path over Default(), then applies environment overrides
// An empty path skips the file
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(cfg, getenv)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnv lets container environments override the file
func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Database.ConnString, "DB_CONN_STR")
	set(&cfg.Database.Host, "DB_HOST")
	set(&cfg.Database.Port, "DB_PORT")
	set(&cfg.Database.User, "DB_USER")
	set(&cfg.Database.Password, "DB_PASSWORD")
	set(&cfg.Database.Name, "DB_NAME")
	set(&cfg.Server.APIToken, "API_TOKEN")
	set(&cfg.Server.Addr, "GRPC_ADDRESS")
	set(&cfg.Provider.BaseURL, "MFAPI_BASE_URL")
	set(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	set(&cfg.Logging.Level, "LOG_LEVEL")
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Database.ConnString == "" && (cfg.Database.Host == "" || cfg.Database.Name == "") {
		errs = append(errs, errors.New("database.conn_string or database.host and database.name are required"))
	}
	if cfg.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url is required"))
	}
	if cfg.Provider.MaxAttempts < 1 {
		errs = append(errs, errors.New("provider.max_attempts must be at least 1"))
	}
	if cfg.Provider.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("provider.backoff_multiplier must be at least 1"))
	}
	if cfg.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("provider.timeout must be positive"))
	}
	if cfg.Ingestion.Delay < 0 {
		errs = append(errs, errors.New("ingestion.delay cannot be negative"))
	}
	for i, code := range cfg.Ingestion.Schemes {
		if strings.TrimSpace(code) == "" {
			errs = append(errs, fmt.Errorf("ingestion.schemes[%d] is empty", i))
		}
	}
	for i, rule := range cfg.Categories.Rules {
		if strings.TrimSpace(rule.Keyword) == "" || rule.Category == "" {
			errs = append(errs, fmt.Errorf("categories.rules[%d] needs a keyword and a category", i))
		}
	}
	for c, r := range cfg.Categories.ExpectedReturns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			errs = append(errs, fmt.Errorf("categories.expected_returns[%s] is not a number", c))
		}
	}
	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	return errors.Join(errs...)
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	if d.ConnString != "" {
		return d.ConnString
	}
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, sslmode)
}

// Pool returns the connection pool bounds
func (d DatabaseConfig) Pool() postgres.PoolConfig {
	return postgres.PoolConfig{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

// Client returns the provider client settings
func (p ProviderConfig) Client() mfapi.Config {
	return mfapi.Config{
		BaseURL:           p.BaseURL,
		Timeout:           p.Timeout,
		MaxAttempts:       p.MaxAttempts,
		BackoffBase:       p.BackoffBase,
		BackoffMultiplier: p.BackoffMultiplier,
		BreakerThreshold:  p.Breaker.Threshold,
		BreakerCooldown:   p.Breaker.Cooldown,
	}
}

// Classifier builds the ordered category classifier
func (c CategoriesConfig) Classifier() *domain.CategoryClassifier {
	return domain.NewCategoryClassifier(c.Rules)
}

// Returns builds the expected-return table
func (c CategoriesConfig) Returns() domain.ExpectedReturns {
	table := make(map[domain.Category]float64, len(c.ExpectedReturns))
	for name, r := range c.ExpectedReturns {
		table[domain.Category(name)] = r
	}
	fallback := c.FallbackReturn
	if fallback == 0 {
		fallback = domain.DefaultFallbackReturn
	}
	return domain.ExpectedReturns{Table: table, Fallback: fallback}
}
