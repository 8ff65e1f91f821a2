package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=8080"`
	GrpcPort int    `env:"GRPC_PORT,default=9090"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	AuditBackend   string `env:"AUDIT_BACKEND,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/audit"`
	DatabaseURL    string `env:"DATABASE_URL"`
	// BlugeFilepath empty keeps the search index in memory, rebuilt at boot.
	BlugeFilepath string `env:"BLUGE_FILEPATH"`

	PolicyFile      string `env:"POLICY_FILE"`
	JWTSecret       string `env:"JWT_SECRET,required=true"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`

	AppendTimeout      time.Duration `env:"APPEND_TIMEOUT,default=2s"`
	DeliveryTimeout    time.Duration `env:"DELIVERY_TIMEOUT,default=1s"`
	SnapshotTTL        time.Duration `env:"SNAPSHOT_TTL,default=30s"`
	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL,default=1m"`
	MetricInterval     time.Duration `env:"METRIC_INTERVAL,default=15s"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	ConnectionBufferSize int  `env:"CONNECTION_BUFFER_SIZE,default=64"`
	MaxContentLength     int  `env:"MAX_CONTENT_LENGTH,default=4000"`
	EchoToSender         bool `env:"ECHO_TO_SENDER,default=true"`
	MaskFlaggedContent   bool `env:"MASK_FLAGGED_CONTENT,default=false"`

	DebugInspectorPort int `env:"DEBUG_INSPECTOR_PORT,default=8081"`
}

// Load reads the process environment and checks cross-field rules.
func Load() (Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	switch c.AuditBackend {
	case BackendBadger:
		if c.BadgerFilepath == "" {
			return fmt.Errorf("BADGER_FILEPATH is required with AUDIT_BACKEND=%s", BackendBadger)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required with AUDIT_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("AUDIT_BACKEND must be %q or %q, got %q", BackendBadger, BackendPostgres, c.AuditBackend)
	}
	for name, d := range map[string]time.Duration{
		"APPEND_TIMEOUT":       c.AppendTimeout,
		"DELIVERY_TIMEOUT":     c.DeliveryTimeout,
		"SNAPSHOT_TTL":         c.SnapshotTTL,
		"CACHE_SWEEP_INTERVAL": c.CacheSweepInterval,
		"METRIC_INTERVAL":      c.MetricInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.ConnectionBufferSize <= 0 {
		return fmt.Errorf("CONNECTION_BUFFER_SIZE must be positive, got %d", c.ConnectionBufferSize)
	}
	if c.MaxContentLength < 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must not be negative, got %d", c.MaxContentLength)
	}
	_, err := CharacterRune(c.CharReplacement)
	return err
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
