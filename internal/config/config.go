package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	XMPP      XMPPConfig
	Log       LogConfig
	Memory    MemoryConfig
	Embedding EmbeddingConfig
	Generator GeneratorConfig
	Context   ContextConfig
	RateLimit RateLimitConfig
	WebSocket WebSocketConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
}

type GRPCConfig struct {
	Enabled bool
	Host    string
	Port    int
	APIKey  string
}

func (c GRPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled       bool
	URL           string
	MaxReconnects int
	MessageMaxAge time.Duration
	// AckWait bounds one inbound turn before JetStream redelivers it.
	AckWait time.Duration
}

type XMPPConfig struct {
	Enabled         bool
	Domain          string
	ComponentHost   string
	ComponentPort   int
	ComponentName   string
	ComponentSecret string
	AllowedDomains  []string
}

func (c XMPPConfig) ComponentAddr() string {
	return fmt.Sprintf("%s:%d", c.ComponentHost, c.ComponentPort)
}

type LogConfig struct {
	Level  string
	Format string
}

// Memory store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
)

type MemoryConfig struct {
	Store        string
	SQLitePath   string
	MaxAge       time.Duration
	MaxResults   int
	DefaultLimit int
}

type EmbeddingConfig struct {
	Provider     string
	BaseURL      string
	APIKey       string
	Model        string
	Dimensions   int
	Timeout      time.Duration
	CacheMaxCost int64
}

type GeneratorConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int64
	MaxRetries int
	Timeout    time.Duration
}

type ContextConfig struct {
	Store         string
	TTL           time.Duration
	ProfileFile   string
	AssistantName string
	OwnerName     string
	MaxEntries    int
	KeepEntries   int
}

type RateLimitConfig struct {
	HTTPRequests int
	HTTPWindow   time.Duration
	UserMessages int
	UserWindow   time.Duration
}

type WebSocketConfig struct {
	ReadLimit    int64
	PingInterval time.Duration
}

func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads path (if it exists) and then environment variables, which
// take precedence.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(path), dotenv.ParserEnv("", ".", envKey))

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	d := durations{k: k}

	cfg := &Config{
		Server: ServerConfig{
			Host:               k.String("server.host"),
			Port:               k.Int("server.port"),
			CORSAllowedOrigins: list(k.String("server.cors.allowed.origins")),
			ShutdownTimeout:    d.get("server.shutdown.timeout", 30*time.Second),
		},
		GRPC: GRPCConfig{
			Enabled: k.Bool("grpc.enabled"),
			Host:    k.String("grpc.host"),
			Port:    k.Int("grpc.port"),
			APIKey:  k.String("grpc.api.key"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Enabled:  k.Bool("redis.enabled"),
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			Enabled:       k.Bool("nats.enabled"),
			URL:           k.String("nats.url"),
			MaxReconnects: k.Int("nats.max.reconnects"),
			MessageMaxAge: d.get("nats.message.max.age", 24*time.Hour),
			AckWait:       d.get("nats.ack.wait", 2*time.Minute),
		},
		XMPP: XMPPConfig{
			Enabled:         k.Bool("xmpp.enabled"),
			Domain:          k.String("xmpp.domain"),
			ComponentHost:   k.String("xmpp.component.host"),
			ComponentPort:   k.Int("xmpp.component.port"),
			ComponentName:   k.String("xmpp.component.name"),
			ComponentSecret: k.String("xmpp.component.secret"),
			AllowedDomains:  list(k.String("xmpp.allowed.domains")),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
		Memory: MemoryConfig{
			Store:        strings.ToLower(k.String("memory.store")),
			SQLitePath:   k.String("memory.sqlite.path"),
			MaxAge:       d.get("memory.max.age", 30*24*time.Hour),
			MaxResults:   k.Int("memory.max.results"),
			DefaultLimit: k.Int("memory.default.limit"),
		},
		Embedding: EmbeddingConfig{
			Provider:     strings.ToLower(k.String("embedding.provider")),
			BaseURL:      k.String("embedding.base.url"),
			APIKey:       k.String("embedding.api.key"),
			Model:        k.String("embedding.model"),
			Dimensions:   k.Int("embedding.dimensions"),
			Timeout:      d.get("embedding.timeout", 10*time.Second),
			CacheMaxCost: k.Int64("embedding.cache.max.cost"),
		},
		Generator: GeneratorConfig{
			APIKey:     k.String("generator.api.key"),
			BaseURL:    k.String("generator.base.url"),
			Model:      k.String("generator.model"),
			MaxTokens:  k.Int64("generator.max.tokens"),
			MaxRetries: k.Int("generator.max.retries"),
			Timeout:    d.get("generator.timeout", 60*time.Second),
		},
		Context: ContextConfig{
			Store:         strings.ToLower(k.String("context.store")),
			TTL:           d.get("context.ttl", 0),
			ProfileFile:   k.String("context.profile.file"),
			AssistantName: k.String("context.assistant.name"),
			OwnerName:     k.String("context.owner.name"),
			MaxEntries:    k.Int("context.max.entries"),
			KeepEntries:   k.Int("context.keep.entries"),
		},
		RateLimit: RateLimitConfig{
			HTTPRequests: k.Int("ratelimit.http.requests"),
			HTTPWindow:   d.get("ratelimit.http.window", time.Minute),
			UserMessages: k.Int("ratelimit.user.messages"),
			UserWindow:   d.get("ratelimit.user.window", time.Minute),
		},
		WebSocket: WebSocketConfig{
			ReadLimit:    k.Int64("websocket.read.limit"),
			PingInterval: d.get("websocket.ping.interval", 30*time.Second),
		},
	}

	if len(d.errs) > 0 {
		return nil, errors.Join(d.errs...)
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.GRPC.Host == "" {
		cfg.GRPC.Host = "0.0.0.0"
	}
	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = 50051
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "recall"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "recall"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = 10
	}
	if cfg.XMPP.Domain == "" {
		cfg.XMPP.Domain = "localhost"
	}
	if cfg.XMPP.ComponentHost == "" {
		cfg.XMPP.ComponentHost = "localhost"
	}
	if cfg.XMPP.ComponentPort == 0 {
		cfg.XMPP.ComponentPort = 5275
	}
	if cfg.XMPP.ComponentName == "" {
		cfg.XMPP.ComponentName = "recall." + cfg.XMPP.Domain
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Memory.Store == "" {
		cfg.Memory.Store = StoreMemory
	}
	if cfg.Memory.SQLitePath == "" {
		cfg.Memory.SQLitePath = "recall.db"
	}
	if cfg.Memory.MaxResults == 0 {
		cfg.Memory.MaxResults = 100
	}
	if cfg.Memory.DefaultLimit == 0 {
		cfg.Memory.DefaultLimit = 10
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "none"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Generator.MaxRetries == 0 {
		cfg.Generator.MaxRetries = 2
	}
	if cfg.Context.Store == "" {
		cfg.Context.Store = StoreMemory
	}
	if cfg.Context.MaxEntries == 0 {
		cfg.Context.MaxEntries = 10
	}
	if cfg.Context.KeepEntries == 0 {
		cfg.Context.KeepEntries = 8
	}

	return cfg, nil
}

// envKey maps SERVER_PORT to server.port.
func envKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", "."))
}

// list splits a comma-separated value, dropping blanks.
func list(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// durations parses duration keys, collecting errors.
type durations struct {
	k    *koanf.Koanf
	errs []error
}

func (d *durations) get(key string, def time.Duration) time.Duration {
	s := d.k.String(key)
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("parsing %s: %w", strings.ToUpper(strings.ReplaceAll(key, ".", "_")), err))
		return def
	}
	return v
}
