package hitloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/hitloop/internal/logging"
	"github.com/viant/hitloop/policy"
	"github.com/viant/hitloop/service/breaker"
	"github.com/viant/hitloop/service/retry"
	"github.com/viant/hitloop/tracing"
	"gopkg.in/yaml.v3"
)

// Store kinds
const (
	StoreMemory = "memory"
	StoreFS     = "fs"
	StoreSQL    = "sql"
	StoreRedis  = "redis"
)

// Channel kinds
const (
	ChannelWebhook = "webhook"
	ChannelQueue   = "queue"
)

// Config is a serialisable representation of the service configuration. The
// zero value of a nested section inherits package defaults.
type Config struct {
	Breaker        breaker.Config `json:"breaker" yaml:"breaker"`
	Retry          retry.Config   `json:"retry" yaml:"retry"`
	DefaultTimeout time.Duration  `json:"defaultTimeout" yaml:"defaultTimeout"`
	SweepInterval  time.Duration  `json:"sweepInterval,omitempty" yaml:"sweepInterval,omitempty"`
	Store          StoreConfig    `json:"store" yaml:"store"`
	Channel        ChannelConfig  `json:"channel" yaml:"channel"`
	Events         EventsConfig   `json:"events,omitempty" yaml:"events,omitempty"`
	Server         ServerConfig   `json:"server,omitempty" yaml:"server,omitempty"`
	Health         HealthConfig   `json:"health,omitempty" yaml:"health,omitempty"`
	Logging        logging.Config `json:"logging,omitempty" yaml:"logging,omitempty"`
	Tracing        tracing.Config `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Policy         *policy.Config `json:"policy,omitempty" yaml:"policy,omitempty"`
}

// StoreConfig selects and configures the approval store
type StoreConfig struct {
	Kind     string `json:"kind" yaml:"kind"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"` // fs base path or redis URL
	Driver   string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN      string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	MaxConns int    `json:"maxConns,omitempty" yaml:"maxConns,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// ChannelConfig selects and configures the notification channel
type ChannelConfig struct {
	Kind            string            `json:"kind" yaml:"kind"`
	URL             string            `json:"url,omitempty" yaml:"url,omitempty"` // webhook URL or fs queue base path
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Secret          string            `json:"secret,omitempty" yaml:"secret,omitempty"`
	CallbackBaseURL string            `json:"callbackBaseURL,omitempty" yaml:"callbackBaseURL,omitempty"`
	Timeout         time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// EventsConfig configures lifecycle event publishing; empty vendor disables it
type EventsConfig struct {
	Vendor   string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	BasePath string `json:"basePath,omitempty" yaml:"basePath,omitempty"`
}

// ServerConfig configures HTTP ingress
type ServerConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// HealthConfig configures gRPC health endpoint; empty address disables it
type HealthConfig struct {
	GRPCAddr string `json:"grpcAddr,omitempty" yaml:"grpcAddr,omitempty"`
}

// DefaultConfig returns a Config populated with default values. Callers may
// modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Breaker:        breaker.DefaultConfig(),
		Retry:          retry.DefaultConfig(),
		DefaultTimeout: 300 * time.Second,
		SweepInterval:  time.Minute,
		Store:          StoreConfig{Kind: StoreMemory},
		Channel:        ChannelConfig{Kind: ChannelQueue, Timeout: 10 * time.Second},
		Server:         ServerConfig{Addr: ":8080"},
		Logging:        logging.Config{Level: "info", Format: "text"},
		Tracing:        tracing.Config{ServiceName: "hitloop"},
	}
}

// Init fills zero sections with defaults
func (c *Config) Init() {
	defaults := DefaultConfig()
	if c.Breaker == (breaker.Config{}) {
		c.Breaker = defaults.Breaker
	}
	if c.Retry == (retry.Config{}) {
		c.Retry = defaults.Retry
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = defaults.DefaultTimeout
	}
	if c.Store.Kind == "" {
		c.Store.Kind = defaults.Store.Kind
	}
	if c.Channel.Kind == "" {
		c.Channel.Kind = defaults.Channel.Kind
	}
	if c.Channel.Timeout == 0 {
		c.Channel.Timeout = defaults.Channel.Timeout
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	if err := c.Breaker.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("defaultTimeout must be > 0"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("sweepInterval must be >= 0"))
	}
	switch c.Store.Kind {
	case StoreMemory:
	case StoreFS:
		if c.Store.URL == "" {
			errs = append(errs, fmt.Errorf("store.url is required for fs store"))
		}
	case StoreSQL:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for sql store"))
		}
	case StoreRedis:
		if c.Store.URL == "" {
			errs = append(errs, fmt.Errorf("store.url is required for redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store.kind: %q", c.Store.Kind))
	}
	switch c.Channel.Kind {
	case ChannelWebhook:
		if c.Channel.URL == "" {
			errs = append(errs, fmt.Errorf("channel.url is required for webhook channel"))
		}
	case ChannelQueue:
	default:
		errs = append(errs, fmt.Errorf("unsupported channel.kind: %q", c.Channel.Kind))
	}
	switch c.Events.Vendor {
	case "", "memory":
	case "fs":
		if c.Events.BasePath == "" {
			errs = append(errs, fmt.Errorf("events.basePath is required for fs events"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported events.vendor: %q", c.Events.Vendor))
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseConfig decodes YAML data; $VAR, ${VAR} and ${env.VAR} references are
// expanded before decoding
func ParseConfig(data []byte) (*Config, error) {
	ret := DefaultConfig()
	expanded := os.ExpandEnv(expandEnvExpr(string(data)))
	if err := yaml.Unmarshal([]byte(expanded), ret); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	ret.Init()
	if err := ret.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return ret, nil
}

// LoadConfig loads YAML config from any afs supported location
func LoadConfig(ctx context.Context, URL string, options ...storage.Option) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %v: %w", URL, err)
	}
	return ParseConfig(data)
}

// expandEnvExpr replaces all occurrences of ${env.KEY} with the value of
// environment variable KEY. Expressions with an invalid key are kept as is.
func expandEnvExpr(value string) string {
	const prefix = "${env."
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(value[i:], prefix)
		if idx < 0 {
			b.WriteString(value[i:])
			break
		}
		b.WriteString(value[i : i+idx])
		startKey := i + idx + len(prefix)
		endKey := strings.IndexByte(value[startKey:], '}')
		if endKey < 0 {
			b.WriteString(value[i+idx:])
			break
		}
		key := value[startKey : startKey+endKey]
		if !isEnvKey(key) {
			b.WriteString(value[i+idx : startKey])
			i = startKey
			continue
		}
		b.WriteString(os.Getenv(key))
		i = startKey + endKey + 1
	}
	return b.String()
}

func isEnvKey(key string) bool {
	for _, r := range key {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return false
		}
	}
	return true
}
