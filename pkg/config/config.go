package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Market       MarketConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Market.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KEYMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"KEYMARKET_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"KEYMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KEYMARKET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"KEYMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"KEYMARKET_DB_DSN"`

	Host     string `envconfig:"KEYMARKET_DB_HOST"`
	Port     int    `envconfig:"KEYMARKET_DB_PORT" default:"5432"`
	User     string `envconfig:"KEYMARKET_DB_USER"`
	Password string `envconfig:"KEYMARKET_DB_PASSWORD"`
	Name     string `envconfig:"KEYMARKET_DB_NAME"`
	SSLMode  string `envconfig:"KEYMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KEYMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KEYMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KEYMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KEYMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KEYMARKET_REDIS_URL"`
	Address      string        `envconfig:"KEYMARKET_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"KEYMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"KEYMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KEYMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KEYMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KEYMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KEYMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KEYMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"KEYMARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KEYMARKET_JWT_ISSUER" default:"keymarket"`
	ExpirationMinutes int    `envconfig:"KEYMARKET_JWT_EXPIRATION_MINUTES" default:"60"`
}

// MarketConfig carries the marketplace money and timing policy.
type MarketConfig struct {
	PlatformFeeRate     decimal.Decimal `envconfig:"KEYMARKET_PLATFORM_FEE_RATE" default:"0.05"`
	DefaultReferralRate decimal.Decimal `envconfig:"KEYMARKET_DEFAULT_REFERRAL_RATE" default:"0.05"`
	ReservationTTL      time.Duration   `envconfig:"KEYMARKET_RESERVATION_TTL" default:"30m"`
	PaymentWindow       time.Duration   `envconfig:"KEYMARKET_PAYMENT_WINDOW" default:"30m"`
	ConfirmationWindow  time.Duration   `envconfig:"KEYMARKET_CONFIRMATION_WINDOW" default:"24h"`
	EarningsHold        time.Duration   `envconfig:"KEYMARKET_EARNINGS_HOLD" default:"72h"`
	PlatformAccountID   string          `envconfig:"KEYMARKET_PLATFORM_ACCOUNT_ID"`
}

// PlatformAccount returns the parsed platform account id, or uuid.Nil when unset.
func (m MarketConfig) PlatformAccount() uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(m.PlatformAccountID))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (m MarketConfig) validate() error {
	one := decimal.NewFromInt(1)
	if m.PlatformFeeRate.IsNegative() || m.PlatformFeeRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("%s must be in [0, 1)", EnvPlatformFeeRate)
	}
	if !m.DefaultReferralRate.IsPositive() || m.DefaultReferralRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("%s must be in (0, 1)", EnvDefaultReferralRate)
	}
	if m.PlatformAccountID != "" && m.PlatformAccount() == uuid.Nil {
		return fmt.Errorf("%s must be a uuid", EnvPlatformAccountID)
	}
	return nil
}

type CronConfig struct {
	Schedule  string        `envconfig:"KEYMARKET_CRON_SCHEDULE" default:"@every 1m"`
	LockTTL   time.Duration `envconfig:"KEYMARKET_CRON_LOCK_TTL" default:"5m"`
	BatchSize int           `envconfig:"KEYMARKET_CRON_BATCH_SIZE" default:"200"`
}

type RateLimitConfig struct {
	OrdersPerMinute int `envconfig:"KEYMARKET_RATE_LIMIT_ORDERS_PER_MINUTE" default:"20"`
	OrdersBurst     int `envconfig:"KEYMARKET_RATE_LIMIT_ORDERS_BURST" default:"5"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"KEYMARKET_AUTO_MIGRATE" default:"false"`
	AuditToBQ   bool `envconfig:"KEYMARKET_AUDIT_BIGQUERY" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KEYMARKET_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"KEYMARKET_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"KEYMARKET_PUBSUB_NOTIFICATION_TOPIC" default:"km-notification-events"`
}

type BigQueryConfig struct {
	Dataset    string `envconfig:"KEYMARKET_BIGQUERY_DATASET" default:"keymarket"`
	AuditTable string `envconfig:"KEYMARKET_BIGQUERY_AUDIT_TABLE" default:"admin_audit"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"KEYMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"KEYMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"KEYMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
