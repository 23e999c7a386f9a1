package config

// EnvPrefix is handed to envconfig; every field tag spells out its full name.
const EnvPrefix = "CARDSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv              = "CARDSYNC_APP_ENV"
	EnvPort                = "CARDSYNC_APP_PORT"
	EnvDBDSN               = "CARDSYNC_DB_DSN"
	EnvDBHost              = "CARDSYNC_DB_HOST"
	EnvDBUser              = "CARDSYNC_DB_USER"
	EnvDBName              = "CARDSYNC_DB_NAME"
	EnvRedisURL            = "CARDSYNC_REDIS_URL"
	EnvJWTSecret           = "CARDSYNC_JWT_SECRET"
	EnvJWTIssuer           = "CARDSYNC_JWT_ISSUER"
	EnvShopifyWebhookKey   = "CARDSYNC_SHOPIFY_WEBHOOK_SECRET"
	EnvShopifyAccessTokens = "CARDSYNC_SHOPIFY_ACCESS_TOKENS"
	EnvSyncQueueMaxAttempt = "CARDSYNC_SYNC_QUEUE_MAX_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
