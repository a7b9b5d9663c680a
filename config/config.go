package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "COURIER"

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	AuthModeOIDC   = "oidc"
	AuthModeHeader = "header"
)

type Config struct {
	AppName                       string        `envconfig:"APP_NAME" default:"courier-api"`
	Version                       string        `envconfig:"VERSION" default:"dev"`
	Port                          int           `envconfig:"PORT" default:"3000"`
	LogLevel                      string        `envconfig:"LOG_LEVEL" default:"info"`
	PrettyLogs                    bool          `envconfig:"PRETTY_LOGS" default:"false"`
	HttpServerWriteTimeoutSeconds int           `envconfig:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" default:"0"`
	HttpServerReadTimeoutSeconds  int           `envconfig:"HTTP_SERVER_READ_TIMEOUT_SECONDS" default:"10"`
	HttpServerIdleTimeoutSeconds  int           `envconfig:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" default:"60"`
	ReadHeaderTimeoutSeconds      int           `envconfig:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" default:"10"`
	MaxHeaderBytes                int           `envconfig:"HTTP_SERVER_MAX_HEADER_BYTES" default:"64000"`
	AllowOrigins                  []string      `envconfig:"HTTP_SERVER_ALLOW_ORIGINS" default:"*"`
	ShutdownTimeout               time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	StartupMaxAttempts            int           `envconfig:"STARTUP_MAX_ATTEMPTS" default:"5"`

	// postgres or memory
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`

	DatabaseHost             string        `envconfig:"DB_HOST" default:"localhost"`
	DatabasePort             string        `envconfig:"DB_PORT" default:"5432"`
	DatabaseUserName         string        `envconfig:"DB_USER_NAME" default:"postgres"`
	DatabasePassword         string        `envconfig:"DB_PASSWORD" default:""`
	DatabaseName             string        `envconfig:"DB_NAME" default:"courier"`
	DatabaseSSLMode          string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DatabaseMaxOpenConns     int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	DatabaseMaxIdleConns     int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	DatabaseStatementTimeout time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"5s"`

	DatabaseMigrationFolderPath   string `envconfig:"DB_MIGRATION_FOLDER_PATH" default:"db/pg"`
	DatabaseMigrationVersion      uint   `envconfig:"DB_MIGRATION_VERSION" default:"0"`
	DatabaseMigrationForce        int    `envconfig:"DB_MIGRATION_FORCE" default:"0"`
	DatabaseMigrationAutoRollback bool   `envconfig:"DB_MIGRATION_AUTO_ROLLBACK" default:"true"`

	// oidc or header
	AuthMode      string `envconfig:"AUTH_MODE" default:"oidc"`
	AuthIssuerURL string `envconfig:"AUTH_ISSUER_URL" default:""`
	AuthClientID  string `envconfig:"AUTH_CLIENT_ID" default:""`

	RedisEnabled         bool          `envconfig:"REDIS_ENABLED" default:"false"`
	RedisHost            string        `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort            int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword        string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB              int           `envconfig:"REDIS_DB" default:"0"`
	RedisChannelPrefix   string        `envconfig:"REDIS_CHANNEL_PREFIX" default:"courier:rooms"`
	RedisDeadLetterQueue string        `envconfig:"REDIS_DLQ_STREAM" default:"courier:notifications:dlq"`
	ClaimRateLimit       int64         `envconfig:"CLAIM_RATE_LIMIT" default:"10"`
	ClaimRateWindow      time.Duration `envconfig:"CLAIM_RATE_WINDOW" default:"1m"`

	KafkaEnabled     bool   `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers     string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaEventsTopic string `envconfig:"KAFKA_EVENTS_TOPIC" default:"courier.request-events"`
	KafkaEmailTopic  string `envconfig:"KAFKA_EMAIL_TOPIC" default:"courier.emails"`

	DispatcherWorkers      int           `envconfig:"DISPATCHER_WORKERS" default:"4"`
	DispatcherQueueSize    int           `envconfig:"DISPATCHER_QUEUE_SIZE" default:"256"`
	DispatcherTracked      int           `envconfig:"DISPATCHER_TRACKED_REQUESTS" default:"10000"`
	RealtimeBufferSize     int           `envconfig:"REALTIME_BUFFER_SIZE" default:"64"`
	RealtimeKeepAlive      time.Duration `envconfig:"REALTIME_KEEPALIVE" default:"15s"`
	NotificationInterval   time.Duration `envconfig:"NOTIFICATION_POLL_INTERVAL" default:"5s"`
	NotificationBatchSize  int           `envconfig:"NOTIFICATION_BATCH_SIZE" default:"10"`
	NotificationMaxAttempt int           `envconfig:"NOTIFICATION_MAX_ATTEMPTS" default:"5"`

	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT" default:""`
	OTLPProtocol string `envconfig:"OTLP_PROTOCOL" default:"grpc"`
	OTLPInsecure bool   `envconfig:"OTLP_INSECURE" default:"true"`
}

// Load reads an optional .env file and then the COURIER_ prefixed environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		_ = godotenv.Load(file)
	}

	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported store driver %q", c.StoreDriver)
	}
	switch c.AuthMode {
	case AuthModeHeader:
	case AuthModeOIDC:
		if c.AuthIssuerURL == "" || c.AuthClientID == "" {
			return fmt.Errorf("oidc auth requires AUTH_ISSUER_URL and AUTH_CLIENT_ID")
		}
	default:
		return fmt.Errorf("unsupported auth mode %q", c.AuthMode)
	}
	if c.Port <= 0 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// DatabaseDSN builds the lib/pq connection URL. The statement timeout is
// passed as a runtime parameter.
func (c *Config) DatabaseDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DatabaseUserName, c.DatabasePassword),
		Host:   c.DatabaseHost + ":" + c.DatabasePort,
		Path:   "/" + c.DatabaseName,
	}
	q := url.Values{}
	q.Set("sslmode", c.DatabaseSSLMode)
	if c.DatabaseStatementTimeout > 0 {
		q.Set("statement_timeout", fmt.Sprint(c.DatabaseStatementTimeout.Milliseconds()))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
