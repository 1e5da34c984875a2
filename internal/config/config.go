// Package config loads chaser configuration from a YAML file, a .env file and
// the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/unclebandit/chaser-backend/internal/logging"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	HTTP      HTTPConfig      `yaml:"http"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Email     EmailConfig     `yaml:"email"`
	Chat      ChatConfig      `yaml:"chat"`
	Tokens    TokensConfig    `yaml:"tokens"`
	Logging   logging.Config  `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host" validate:"required"`
	Port         int    `yaml:"port" validate:"min=1,max=65535"`
	User         string `yaml:"user" validate:"required"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name" validate:"required"`
	SSLMode      string `yaml:"sslmode" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"min=1"`
}

// DSN renders the lib/pq connection URL.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
}

// AMQPConfig selects the dispatch queue transport. An empty URL keeps
// dispatch jobs in process.
type AMQPConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type SchedulerConfig struct {
	Cron    string        `yaml:"cron" validate:"required"`
	LockKey string        `yaml:"lock_key" validate:"required"`
	LockTTL time.Duration `yaml:"lock_ttl" validate:"gt=0"`
}

type DispatchConfig struct {
	TickWorkers     int           `yaml:"tick_workers" validate:"min=1"`
	DispatchWorkers int           `yaml:"dispatch_workers" validate:"min=1"`
	BatchSize       int           `yaml:"batch_size" validate:"min=1"`
	ClaimTTL        time.Duration `yaml:"claim_ttl" validate:"gt=0"`
	SendTimeout     time.Duration `yaml:"send_timeout" validate:"gt=0"`
	EmailPerSecond  float64       `yaml:"email_per_second" validate:"gt=0"`
	ChatPerSecond   float64       `yaml:"chat_per_second" validate:"gt=0"`
}

type EmailConfig struct {
	DryRun           bool   `yaml:"dry_run"`
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	CostMinor        int64  `yaml:"cost_minor" validate:"min=0"`
}

type ChatConfig struct {
	DryRun    bool          `yaml:"dry_run"`
	BaseURL   string        `yaml:"base_url" validate:"omitempty,url"`
	AccountID string        `yaml:"account_id"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
}

type TokensConfig struct {
	UnsubscribeSecret string        `yaml:"unsubscribe_secret" validate:"required,min=16"`
	PortalBaseURL     string        `yaml:"portal_base_url" validate:"required,url"`
	PublicBaseURL     string        `yaml:"public_base_url" validate:"required,url"`
	DeepLinkTTL       time.Duration `yaml:"deep_link_ttl"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads the optional .env file and YAML file at path, applies
// environment overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		data = b
	}
	return Parse(data, os.LookupEnv)
}

// Parse builds a Config from YAML bytes and an environment lookup.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DB_HOST":               &c.Database.Host,
		"DB_USER":               &c.Database.User,
		"DB_PASSWORD":           &c.Database.Password,
		"DB_NAME":               &c.Database.Name,
		"DB_SSLMODE":            &c.Database.SSLMode,
		"REDIS_ADDR":            &c.Redis.Addr,
		"REDIS_PASSWORD":        &c.Redis.Password,
		"AMQP_URL":              &c.AMQP.URL,
		"HTTP_ADDR":             &c.HTTP.Addr,
		"CHASE_CRON":            &c.Scheduler.Cron,
		"AWS_REGION":            &c.Email.Region,
		"AWS_ACCESS_KEY_ID":     &c.Email.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY": &c.Email.SecretAccessKey,
		"CHAT_API_URL":          &c.Chat.BaseURL,
		"CHAT_ACCOUNT_ID":       &c.Chat.AccountID,
		"CHAT_API_TOKEN":        &c.Chat.Token,
		"UNSUBSCRIBE_SECRET":    &c.Tokens.UnsubscribeSecret,
		"PORTAL_BASE_URL":       &c.Tokens.PortalBaseURL,
		"PUBLIC_BASE_URL":       &c.Tokens.PublicBaseURL,
		"LOG_LEVEL":             &c.Logging.Level,
		"LOG_FILE":              &c.Logging.File,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("DB_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DB_PORT: %w", err)
		}
		c.Database.Port = port
	}
	if v, ok := lookup("EMAIL_DRY_RUN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: EMAIL_DRY_RUN: %w", err)
		}
		c.Email.DryRun = b
	}
	if v, ok := lookup("CHAT_DRY_RUN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: CHAT_DRY_RUN: %w", err)
		}
		c.Chat.DryRun = b
	}
	return nil
}

// applyDefaults fills in values left empty by the file and environment.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.Scheduler.Cron == "" {
		c.Scheduler.Cron = "*/15 * * * *"
	}
	if c.Scheduler.LockKey == "" {
		c.Scheduler.LockKey = "chaser:tick"
	}
	if c.Scheduler.LockTTL == 0 {
		c.Scheduler.LockTTL = 10 * time.Minute
	}
	if c.Dispatch.TickWorkers == 0 {
		c.Dispatch.TickWorkers = 8
	}
	if c.Dispatch.DispatchWorkers == 0 {
		c.Dispatch.DispatchWorkers = 4
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 500
	}
	if c.Dispatch.ClaimTTL == 0 {
		c.Dispatch.ClaimTTL = 5 * time.Minute
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = 15 * time.Second
	}
	if c.Dispatch.EmailPerSecond == 0 {
		c.Dispatch.EmailPerSecond = 14
	}
	if c.Dispatch.ChatPerSecond == 0 {
		c.Dispatch.ChatPerSecond = 20
	}
	if c.Email.Region == "" {
		c.Email.Region = "us-east-1"
	}
	if c.Chat.Timeout == 0 {
		c.Chat.Timeout = c.Dispatch.SendTimeout
	}
	if c.Tokens.DeepLinkTTL == 0 {
		c.Tokens.DeepLinkTTL = 90 * 24 * time.Hour
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	c.Tokens.PortalBaseURL = strings.TrimRight(c.Tokens.PortalBaseURL, "/")
	c.Tokens.PublicBaseURL = strings.TrimRight(c.Tokens.PublicBaseURL, "/")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return c.validateDispatch()
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config: validation failed: %s", strings.Join(msgs, "; "))
}

// validateDispatch keeps a claim alive for the limiter wait plus the provider
// call. The dispatcher gives the limiter at most claim_ttl - send_timeout.
func (c *Config) validateDispatch() error {
	d := c.Dispatch
	if d.ClaimTTL <= 2*d.SendTimeout {
		return fmt.Errorf("config: dispatch.claim_ttl (%s) must be more than twice dispatch.send_timeout (%s)",
			d.ClaimTTL, d.SendTimeout)
	}
	if c.Chat.Timeout > d.SendTimeout {
		return fmt.Errorf("config: chat.timeout (%s) must not exceed dispatch.send_timeout (%s)",
			c.Chat.Timeout, d.SendTimeout)
	}
	return nil
}
