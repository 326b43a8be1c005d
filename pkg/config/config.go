package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	SMTP         SMTPConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LUMEN_APP_ENV" required:"true"`
	Port         string `envconfig:"LUMEN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LUMEN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LUMEN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LUMEN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LUMEN_DB_DSN"`
	Driver string `envconfig:"LUMEN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LUMEN_DB_HOST"`
	LegacyPort     int    `envconfig:"LUMEN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LUMEN_DB_USER"`
	LegacyPassword string `envconfig:"LUMEN_DB_PASSWORD"`
	LegacyName     string `envconfig:"LUMEN_DB_NAME"`
	LegacySSLMode  string `envconfig:"LUMEN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LUMEN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LUMEN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LUMEN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LUMEN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LUMEN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LUMEN_REDIS_ADDR"`
	Password     string        `envconfig:"LUMEN_REDIS_PASSWORD"`
	DB           int           `envconfig:"LUMEN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LUMEN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LUMEN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LUMEN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LUMEN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LUMEN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LUMEN_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LUMEN_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookReplayTTL      time.Duration `envconfig:"LUMEN_EVENTING_WEBHOOK_REPLAY_TTL" default:"72h"`
	ReceiptIdempotencyTTL time.Duration `envconfig:"LUMEN_EVENTING_RECEIPT_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LUMEN_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"LUMEN_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LUMEN_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ReceiptsTopic        string `envconfig:"LUMEN_PUBSUB_RECEIPTS_TOPIC" default:"gv-receipt-events"`
	ReceiptsSubscription string `envconfig:"LUMEN_PUBSUB_RECEIPTS_SUBSCRIPTION" required:"true"`
}

type StripeConfig struct {
	APIKey             string `envconfig:"LUMEN_STRIPE_API_KEY"`
	WebhookSecret      string `envconfig:"LUMEN_STRIPE_WEBHOOK_SECRET"`
	Env                string `envconfig:"LUMEN_STRIPE_ENV" default:"test"`
	CheckoutSuccessURL string `envconfig:"LUMEN_STRIPE_CHECKOUT_SUCCESS_URL" default:"https://giving.lumenfund.org/thank-you"`
	CheckoutCancelURL  string `envconfig:"LUMEN_STRIPE_CHECKOUT_CANCEL_URL" default:"https://giving.lumenfund.org/give"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SMTPConfig struct {
	Host      string `envconfig:"LUMEN_SMTP_HOST"`
	Port      int    `envconfig:"LUMEN_SMTP_PORT" default:"587"`
	Username  string `envconfig:"LUMEN_SMTP_USERNAME"`
	Password  string `envconfig:"LUMEN_SMTP_PASSWORD"`
	FromEmail string `envconfig:"LUMEN_SMTP_FROM_EMAIL" default:"receipts@lumenfund.org"`
	FromName  string `envconfig:"LUMEN_SMTP_FROM_NAME" default:"Lumen Fund"`
}

// Addr returns the host:port dial target for the SMTP server.
func (s SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"LUMEN_CRON_INTERVAL" default:"24h"`
	ReconcileBatchSize int           `envconfig:"LUMEN_CRON_RECONCILE_BATCH_SIZE" default:"100"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
