package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns     int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBConnLifetime time.Duration `env:"DB_CONN_LIFETIME" envDefault:"1h"`

	RunnerURL     string        `env:"RUNNER_URL,required"`
	RunnerEngine  string        `env:"RUNNER_ENGINE" envDefault:"whisper"`
	RunnerModel   string        `env:"RUNNER_MODEL" envDefault:"large-v3"`
	RunnerTimeout time.Duration `env:"RUNNER_TIMEOUT" envDefault:"30s"`

	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"6s"`
	PollMaxDuration time.Duration `env:"POLL_MAX_DURATION" envDefault:"2h"`
	SyncDebounce    time.Duration `env:"SYNC_DEBOUNCE" envDefault:"1500ms"`

	DataDir    string `env:"DATA_DIR" envDefault:"./data"`
	InboxDir   string `env:"INBOX_DIR"`
	InboxOwner string `env:"INBOX_OWNER"`

	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	S3Bucket        string        `env:"S3_BUCKET"`
	S3Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint      string        `env:"S3_ENDPOINT"`
	S3AccessKey     string        `env:"S3_ACCESS_KEY"`
	S3SecretKey     string        `env:"S3_SECRET_KEY"`
	S3Prefix        string        `env:"S3_PREFIX"`
	S3PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"15m"`

	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"transcripts/events"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"transcript-engine"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	// No write timeout: SSE connections stay open indefinitely.
	HTTPAddr    string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	IdleTimeout time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken      string   `env:"AUTH_TOKEN"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:","`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"20"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	RunnerURL   string
	DataDir     string
	InboxDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.RunnerURL != "" {
		cfg.RunnerURL = overrides.RunnerURL
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}
	if overrides.InboxDir != "" {
		cfg.InboxDir = overrides.InboxDir
	}

	return cfg, nil
}
