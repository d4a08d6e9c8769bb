// Package config loads gateway settings from the environment, an optional
// .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/smartcommerce/busgate-go/contracts"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. BUSGATE_TRANSPORT
const EnvPrefix = "BUSGATE"

// Transport names accepted in Config.Transport
const (
	TransportRabbitMQ  = "rabbitmq"
	TransportRedis     = "redis"
	TransportJetStream = "nats"
	TransportKafka     = "kafka"
	TransportMemory    = "memory"
)

// Config holds gateway settings
type Config struct {
	Transport        string `envconfig:"TRANSPORT" default:"rabbitmq" yaml:"transport"`
	ConnectionString string `envconfig:"CONNECTION_STRING" yaml:"connectionString"`
	Source           string `envconfig:"SOURCE" yaml:"source"`

	MaxConcurrentCalls int           `envconfig:"MAX_CONCURRENT_CALLS" default:"5" yaml:"maxConcurrentCalls"`
	MaxLockRenewal     time.Duration `envconfig:"MAX_LOCK_RENEWAL" default:"10m" yaml:"maxLockRenewal"`
	LockDuration       time.Duration `envconfig:"LOCK_DURATION" default:"30s" yaml:"lockDuration"`
	StopTimeout        time.Duration `envconfig:"STOP_TIMEOUT" default:"30s" yaml:"stopTimeout"`
	CloseTimeout       time.Duration `envconfig:"CLOSE_TIMEOUT" default:"30s" yaml:"closeTimeout"`
	AckTimeout         time.Duration `envconfig:"ACK_TIMEOUT" default:"30s" yaml:"ackTimeout"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" yaml:"logLevel"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json" yaml:"logFormat"`
	MetricsAddr string `envconfig:"METRICS_ADDR" yaml:"metricsAddr"`

	RabbitMQ RabbitMQConfig `envconfig:"RABBITMQ" yaml:"rabbitmq"`
	Redis    RedisConfig    `envconfig:"REDIS" yaml:"redis"`
	NATS     NATSConfig     `envconfig:"NATS" yaml:"nats"`
	Kafka    KafkaConfig    `envconfig:"KAFKA" yaml:"kafka"`
}

// RabbitMQConfig holds RabbitMQ specifics
type RabbitMQConfig struct {
	DeadLetterSuffix string        `envconfig:"DEAD_LETTER_SUFFIX" default:".deadletter" yaml:"deadLetterSuffix"`
	ReconnectDelay   time.Duration `envconfig:"RECONNECT_DELAY" default:"5s" yaml:"reconnectDelay"`
	DeclareQueues    bool          `envconfig:"DECLARE_QUEUES" default:"false" yaml:"declareQueues"`
}

// RedisConfig holds Redis Streams specifics
type RedisConfig struct {
	Group        string        `envconfig:"GROUP" default:"busgate" yaml:"group"`
	Consumer     string        `envconfig:"CONSUMER" yaml:"consumer"`
	BlockTimeout time.Duration `envconfig:"BLOCK_TIMEOUT" default:"2s" yaml:"blockTimeout"`
	MaxLen       int64         `envconfig:"MAX_LEN" default:"0" yaml:"maxLen"`
}

// NATSConfig holds JetStream specifics
type NATSConfig struct {
	Durable string `envconfig:"DURABLE" default:"busgate" yaml:"durable"`
}

// KafkaConfig holds Kafka specifics. Brokers come from ConnectionString.
type KafkaConfig struct {
	GroupID string `envconfig:"GROUP_ID" default:"busgate" yaml:"groupId"`
}

// Load reads .env files (existing variables win), then the environment
// with defaults, then the YAML file at path when path is not empty. Values
// in the YAML file override the environment.
func Load(path string, dotenvFiles ...string) (Config, error) {
	if err := LoadDotEnv(dotenvFiles...); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// LoadDotEnv loads the given .env files, or ./.env when none are given.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks that the settings can build a gateway
func (c Config) Validate() error {
	switch c.Transport {
	case TransportRabbitMQ, TransportRedis, TransportJetStream, TransportKafka:
		if strings.TrimSpace(c.ConnectionString) == "" {
			return &contracts.ConfigurationError{
				Field:  "ConnectionString",
				Reason: fmt.Sprintf("required for transport %q (set %s_CONNECTION_STRING)", c.Transport, EnvPrefix),
			}
		}
	case TransportMemory:
	default:
		return &contracts.ConfigurationError{
			Field:  "Transport",
			Reason: fmt.Sprintf("unknown transport %q", c.Transport),
		}
	}

	if c.MaxConcurrentCalls <= 0 {
		return &contracts.ConfigurationError{Field: "MaxConcurrentCalls", Reason: "must be positive"}
	}
	if c.LockDuration <= 0 {
		return &contracts.ConfigurationError{Field: "LockDuration", Reason: "must be positive"}
	}
	if c.StopTimeout <= 0 || c.CloseTimeout <= 0 {
		return &contracts.ConfigurationError{Field: "StopTimeout/CloseTimeout", Reason: "must be positive"}
	}
	return nil
}

// KafkaBrokers splits the connection string into broker addresses
func (c Config) KafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.ConnectionString, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
