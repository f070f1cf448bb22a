package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Billing      BillingConfig
	Razorpay     RazorpayConfig
	Locks        LocksConfig
	Reconciler   ReconcilerConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
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
	Env          string `envconfig:"MEDISYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"MEDISYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MEDISYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEDISYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MEDISYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MEDISYNC_DB_DSN"`
	Driver string `envconfig:"MEDISYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEDISYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"MEDISYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEDISYNC_DB_USER"`
	LegacyPassword string `envconfig:"MEDISYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEDISYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEDISYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEDISYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEDISYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEDISYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEDISYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MEDISYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MEDISYNC_REDIS_ADDR"`
	Password     string        `envconfig:"MEDISYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEDISYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEDISYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEDISYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEDISYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEDISYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEDISYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MEDISYNC_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MEDISYNC_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MEDISYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

type RateLimitConfig struct {
	VerifyWindow        time.Duration `envconfig:"MEDISYNC_RATE_LIMIT_VERIFY_WINDOW" default:"1m"`
	VerifyIPLimit       int           `envconfig:"MEDISYNC_RATE_LIMIT_VERIFY_IP_LIMIT" default:"30"`
	VerifyHospitalLimit int           `envconfig:"MEDISYNC_RATE_LIMIT_VERIFY_HOSPITAL_LIMIT" default:"10"`
	WebhookWindow       time.Duration `envconfig:"MEDISYNC_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookIPLimit      int           `envconfig:"MEDISYNC_RATE_LIMIT_WEBHOOK_IP_LIMIT" default:"240"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MEDISYNC_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MEDISYNC_AUTO_MIGRATE" default:"false"`
}

// BillingConfig drives the renewal price calculator. Percentages are whole
// numbers (2 means 2%), amounts are paise.
type BillingConfig struct {
	PerDoctorMonthlyPaise int64           `envconfig:"MEDISYNC_BILLING_PER_DOCTOR_MONTHLY_PAISE" default:"100000"`
	YearlyDiscountPercent decimal.Decimal `envconfig:"MEDISYNC_BILLING_YEARLY_DISCOUNT_PERCENT" default:"10"`
	PlatformFeePercent    decimal.Decimal `envconfig:"MEDISYNC_BILLING_PLATFORM_FEE_PERCENT" default:"2"`
	GSTPercent            decimal.Decimal `envconfig:"MEDISYNC_BILLING_GST_PERCENT" default:"18"`
	FeeOnNetPayable       bool            `envconfig:"MEDISYNC_BILLING_FEE_ON_NET_PAYABLE" default:"false"`
	Currency              string          `envconfig:"MEDISYNC_BILLING_CURRENCY" default:"INR"`
}

type RazorpayConfig struct {
	KeyID         string        `envconfig:"MEDISYNC_RAZORPAY_KEY_ID" required:"true"`
	KeySecret     string        `envconfig:"MEDISYNC_RAZORPAY_KEY_SECRET" required:"true"`
	WebhookSecret string        `envconfig:"MEDISYNC_RAZORPAY_WEBHOOK_SECRET"`
	CallTimeout   time.Duration `envconfig:"MEDISYNC_RAZORPAY_CALL_TIMEOUT" default:"35s"`
	FetchRetries  int           `envconfig:"MEDISYNC_RAZORPAY_FETCH_RETRIES" default:"2"`
	RetryBaseWait time.Duration `envconfig:"MEDISYNC_RAZORPAY_RETRY_BASE_WAIT" default:"500ms"`
}

// LocksConfig bounds the per-hospital renewal and verification leases.
type LocksConfig struct {
	TTL              time.Duration `envconfig:"MEDISYNC_LOCK_TTL" default:"45s"`
	AcquireAttempts  int           `envconfig:"MEDISYNC_LOCK_ACQUIRE_ATTEMPTS" default:"3"`
	AcquireBaseWait  time.Duration `envconfig:"MEDISYNC_LOCK_ACQUIRE_BASE_WAIT" default:"150ms"`
	WorkerTTL        time.Duration `envconfig:"MEDISYNC_LOCK_WORKER_TTL" default:"10m"`
	LongHoldWarnSpan time.Duration `envconfig:"MEDISYNC_LOCK_LONG_HOLD_WARN_SPAN" default:"30s"`
}

type ReconcilerConfig struct {
	Interval       time.Duration `envconfig:"MEDISYNC_RECONCILER_INTERVAL" default:"5m"`
	StaleAfter     time.Duration `envconfig:"MEDISYNC_RECONCILER_STALE_AFTER" default:"30m"`
	BatchSize      int           `envconfig:"MEDISYNC_RECONCILER_BATCH_SIZE" default:"100"`
	HealthInterval time.Duration `envconfig:"MEDISYNC_RECONCILER_HEALTH_INTERVAL" default:"15m"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"MEDISYNC_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON string `envconfig:"MEDISYNC_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"MEDISYNC_PUBSUB_NOTIFICATION_TOPIC" default:"ms-notification-events"`
	NotificationSubscription string `envconfig:"MEDISYNC_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
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
