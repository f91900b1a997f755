package domain

import "time"

// Config holds the complete decision engine configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Engine settings: the artifact library and request-level defaults.
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds the knobs spec.md §5/§6 leave to deployment: where the artifact
// library lives, the default pipeline to run when a request omits options.pipeline_id,
// and the request-wide deadline the VM checks against (spec.md §5's "deadline checked
// before every external call and every 1024 instructions").
type EngineConfig struct {
	// LibraryDir is an on-disk artifact library root (internal/loader.FSRepository);
	// used when Repository.Driver is "filesystem". SQL-backed artifact storage
	// (internal/repository.SQLRepository) is used for any other driver value.
	LibraryDir string `json:"libraryDir"`

	// DefaultPipelineID is used when a request's options.pipeline_id is empty.
	DefaultPipelineID string `json:"defaultPipelineId"`

	// RequestTimeout bounds a single decision evaluation end to end.
	RequestTimeout time.Duration `json:"requestTimeout"`

	// MaxParallelCalls bounds a parallel call-group's concurrent goroutines
	// (vm.Machine.MaxWorkers).
	MaxParallelCalls int `json:"maxParallelCalls"`

	// WorkerTenantIDs lists the tenants the async worker subscribes to on the event
	// bus (empty = a single global subscription, the Community-tier default).
	WorkerTenantIDs []string `json:"workerTenantIds"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with a filesystem artifact library + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier: filesystem-backed
// artifact library, in-memory cache, in-process event bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			LibraryDir:       "./library",
			RequestTimeout:   2 * time.Second,
			MaxParallelCalls: 8,
		},
		Repository: RepositoryConfig{
			Driver: "filesystem",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "decisionengine",
		},
	}
}

// ProConfig returns a configuration for Pro tier: SQL-backed artifact storage, Redis
// two-phase cache, NATS event bus.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "decisionengine",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
