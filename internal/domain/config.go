package domain

import "time"

// Config holds the complete Riskgate configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Ledger   LedgerConfig   `json:"ledger"`
	Cache    CacheConfig    `json:"cache"`
	EventBus EventBusConfig `json:"eventBus"`
	Judgment JudgmentConfig `json:"judgment"`

	// Scoring holds the versioned aggregation and threshold settings.
	Scoring ScoringConfig `json:"scoring"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ScoringConfig is the versioned aggregation formula and decision-band
// configuration. The exact cut points are product decisions; these are the
// defaults pending confirmation with the product owner.
type ScoringConfig struct {
	Version string `json:"version"`

	// Blend weights. RulesWeight must be >= JudgmentWeight so an external
	// opinion can never pull a high-rules-risk order down to a safe score.
	RulesWeight    float64 `json:"rulesWeight"`
	JudgmentWeight float64 `json:"judgmentWeight"`

	// Level bands: score < MediumFloor is LOW, < HighFloor is MEDIUM,
	// < CriticalFloor is HIGH, else CRITICAL.
	MediumFloor   float64 `json:"mediumFloor"`
	HighFloor     float64 `json:"highFloor"`
	CriticalFloor float64 `json:"criticalFloor"`

	// Decision thresholds: score >= DeclineThreshold refuses, score >=
	// VerifyThreshold holds, anything lower approves.
	VerifyThreshold  float64 `json:"verifyThreshold"`
	DeclineThreshold float64 `json:"declineThreshold"`

	// VelocityWindowSecs is the rolling window for order-velocity features.
	VelocityWindowSecs int `json:"velocityWindowSecs"`
}

// DefaultScoringConfig returns the default scoring configuration.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Version:            "2026.1",
		RulesWeight:        0.6,
		JudgmentWeight:     0.4,
		MediumFloor:        26,
		HighFloor:          51,
		CriticalFloor:      76,
		VerifyThreshold:    51,
		DeclineThreshold:   76,
		VelocityWindowSecs: 3600,
	}
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
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channel bus
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Ledger: LedgerConfig{
			Driver:     "sqlite",
			SQLitePath: "./riskgate.db",
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
		Judgment: JudgmentConfig{
			Enabled:   false,
			TimeoutMs: 2500,
		},
		Scoring: DefaultScoringConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "riskgate",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Ledger = LedgerConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "riskgate",
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
