package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load, e.g.
// MYCLEAN_SERVER_ADDR.
const EnvPrefix = "MYCLEAN"

// MemoryDSN selects the in-process store instead of Postgres.
const MemoryDSN = "memory"

const (
	defaultEventRate           = 10
	defaultEventBurst          = 20
	defaultParticipantCacheTTL = 10 * time.Minute
)

type Config struct {
	ServerAddr          string        `yaml:"server_addr" envconfig:"SERVER_ADDR"`
	DatabaseDSN         string        `yaml:"database_dsn" envconfig:"DATABASE_DSN"`
	Base64SigningKey    string        `yaml:"signing_key" envconfig:"SIGNING_KEY"`
	AllowedOrigins      []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	Migrate             bool          `yaml:"migrate" envconfig:"MIGRATE"`
	AMQPURL             string        `yaml:"amqp_url" envconfig:"AMQP_URL"`
	AMQPExchange        string        `yaml:"amqp_exchange" envconfig:"AMQP_EXCHANGE"`
	EventRate           float64       `yaml:"event_rate" envconfig:"EVENT_RATE"`
	EventBurst          int           `yaml:"event_burst" envconfig:"EVENT_BURST"`
	ParticipantCacheTTL time.Duration `yaml:"participant_cache_ttl" envconfig:"PARTICIPANT_CACHE_TTL"`

	// SigningKey is the decoded Base64SigningKey.
	SigningKey []byte `yaml:"-" ignored:"true"`
}

// Overrides are command-line values applied after the file and the
// environment. Empty fields are ignored.
type Overrides struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     string
	AllowedOrigins []string
}

func defaults() *Config {
	return &Config{
		ServerAddr:          "localhost:8000",
		DatabaseDSN:         MemoryDSN,
		AMQPExchange:        "myclean.events",
		EventRate:           defaultEventRate,
		EventBurst:          defaultEventBurst,
		ParticipantCacheTTL: defaultParticipantCacheTTL,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, MYCLEAN_* environment variables and o, in that order, and
// validates the result.
func Load(path string, o Overrides) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg.apply(o)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) apply(o Overrides) {
	if o.ServerAddr != "" {
		c.ServerAddr = o.ServerAddr
	}
	if o.DatabaseDSN != "" {
		c.DatabaseDSN = o.DatabaseDSN
	}
	if o.SigningKey != "" {
		c.Base64SigningKey = o.SigningKey
	}
	if len(o.AllowedOrigins) > 0 {
		c.AllowedOrigins = o.AllowedOrigins
	}
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func (c *Config) validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.Base64SigningKey == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(c.Base64SigningKey)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	if len(signingKey) == 0 {
		return fmt.Errorf("signing secret cannot be empty")
	}
	c.SigningKey = signingKey

	if c.EventRate <= 0 {
		c.EventRate = defaultEventRate
	}
	if c.EventBurst <= 0 {
		c.EventBurst = defaultEventBurst
	}
	if c.ParticipantCacheTTL <= 0 {
		c.ParticipantCacheTTL = defaultParticipantCacheTTL
	}
	if c.AMQPURL != "" && c.AMQPExchange == "" {
		return fmt.Errorf("amqp exchange cannot be empty when amqp url is set")
	}

	return nil
}

// InMemory reports whether the configured store is the in-process one.
func (c *Config) InMemory() bool {
	return c.DatabaseDSN == MemoryDSN
}
