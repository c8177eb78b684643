package config

import "time"

// DefaultConfig returns the baseline configuration. YAML and environment
// values layer on top of it.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "squadflow",
			Name:            "squadflow",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			KeyPrefix:    "squadflow:",
			StreamMaxLen: 10000,
			SendRate:     100,
			SendBurst:    20,
		},
		Messenger: "redis",
		Engine: EngineConfig{
			InitialTimeout:      30 * time.Minute,
			FollowUpTimeout:     10 * time.Minute,
			EscalationTimeout:   30 * time.Minute,
			MaxRetries:          1,
			MaxEscalationLevels: 10,
		},
		Sweeper: SweeperConfig{
			Interval:    time.Minute,
			Concurrency: 8,
			BatchLimit:  500,
			Retention:   30 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "squadflow",
			SampleRate:   1.0,
		},
	}
}
