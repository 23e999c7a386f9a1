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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Shopify      ShopifyConfig
	Governor     GovernorConfig
	SyncQueue    SyncQueueConfig
	RetryJobs    RetryJobsConfig
	Cron         CronConfig
	Ledger       LedgerConfig
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
	Env          string `envconfig:"CARDSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"CARDSYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CARDSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARDSYNC_LOG_WARN_STACK" default:"false"`
	CORSOrigins  string `envconfig:"CARDSYNC_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CARDSYNC_SERVICE_KIND" default:"api"`
	// MetricsAddr exposes /metrics from the worker when set, e.g. ":9102".
	MetricsAddr string `envconfig:"CARDSYNC_WORKER_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"CARDSYNC_DB_DSN"`
	Driver string `envconfig:"CARDSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CARDSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"CARDSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CARDSYNC_DB_USER"`
	LegacyPassword string `envconfig:"CARDSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"CARDSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"CARDSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CARDSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARDSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARDSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARDSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the DSN should be opened with the sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CARDSYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CARDSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CARDSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARDSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARDSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARDSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARDSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARDSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARDSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CARDSYNC_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CARDSYNC_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CARDSYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CARDSYNC_AUTO_MIGRATE" default:"false"`
}

type ShopifyConfig struct {
	WebhookSecret string        `envconfig:"CARDSYNC_SHOPIFY_WEBHOOK_SECRET" required:"true"`
	APIVersion    string        `envconfig:"CARDSYNC_SHOPIFY_API_VERSION" default:"2024-07"`
	AccessTokens  string        `envconfig:"CARDSYNC_SHOPIFY_ACCESS_TOKENS"`
	Timeout       time.Duration `envconfig:"CARDSYNC_SHOPIFY_TIMEOUT" default:"15s"`
	BaseURL       string        `envconfig:"CARDSYNC_SHOPIFY_BASE_URL"`
}

// Tokens parses the comma separated domain:token list into a lookup keyed by
// lower-cased shop domain.
func (s ShopifyConfig) Tokens() map[string]string {
	tokens := map[string]string{}
	for _, pair := range strings.Split(s.AccessTokens, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		domain, token, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		domain = strings.ToLower(strings.TrimSpace(domain))
		token = strings.TrimSpace(token)
		if domain == "" || token == "" {
			continue
		}
		tokens[domain] = token
	}
	return tokens
}

type GovernorConfig struct {
	BucketCapacity   float64       `envconfig:"CARDSYNC_GOVERNOR_BUCKET_CAPACITY" default:"500"`
	RefillPerSecond  float64       `envconfig:"CARDSYNC_GOVERNOR_REFILL_PER_SECOND" default:"8.3"`
	DelayFloor       time.Duration `envconfig:"CARDSYNC_GOVERNOR_DELAY_FLOOR" default:"100ms"`
	DelayMax         time.Duration `envconfig:"CARDSYNC_GOVERNOR_DELAY_MAX" default:"10s"`
	WarnRatio        float64       `envconfig:"CARDSYNC_GOVERNOR_WARN_RATIO" default:"0.8"`
	QuietPeriod      time.Duration `envconfig:"CARDSYNC_GOVERNOR_QUIET_PERIOD" default:"30s"`
	FailureThreshold int           `envconfig:"CARDSYNC_GOVERNOR_FAILURE_THRESHOLD" default:"5"`
	CooldownBase     time.Duration `envconfig:"CARDSYNC_GOVERNOR_COOLDOWN_BASE" default:"30s"`
	CooldownMax      time.Duration `envconfig:"CARDSYNC_GOVERNOR_COOLDOWN_MAX" default:"10m"`
}

type SyncQueueConfig struct {
	BatchSize      int           `envconfig:"CARDSYNC_SYNC_QUEUE_BATCH_SIZE" default:"25"`
	PollIntervalMS int           `envconfig:"CARDSYNC_SYNC_QUEUE_POLL_MS" default:"1000"`
	MaxAttempts    int           `envconfig:"CARDSYNC_SYNC_QUEUE_MAX_ATTEMPTS" default:"5"`
	BackoffBase    time.Duration `envconfig:"CARDSYNC_SYNC_QUEUE_BACKOFF_BASE" default:"30s"`
	BackoffMax     time.Duration `envconfig:"CARDSYNC_SYNC_QUEUE_BACKOFF_MAX" default:"30m"`
	StaleAfter     time.Duration `envconfig:"CARDSYNC_SYNC_QUEUE_STALE_AFTER" default:"10m"`
}

type RetryJobsConfig struct {
	BatchSize   int           `envconfig:"CARDSYNC_RETRY_JOBS_BATCH_SIZE" default:"50"`
	MaxAttempts int           `envconfig:"CARDSYNC_RETRY_JOBS_MAX_ATTEMPTS" default:"8"`
	BackoffBase time.Duration `envconfig:"CARDSYNC_RETRY_JOBS_BACKOFF_BASE" default:"1m"`
	BackoffMax  time.Duration `envconfig:"CARDSYNC_RETRY_JOBS_BACKOFF_MAX" default:"6h"`
	StuckAfter  time.Duration `envconfig:"CARDSYNC_RETRY_JOBS_STUCK_AFTER" default:"15m"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CARDSYNC_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"CARDSYNC_CRON_LOCK_TTL" default:"5m"`
}

type LedgerConfig struct {
	RetentionDays int `envconfig:"CARDSYNC_LEDGER_RETENTION_DAYS" default:"90"`
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
