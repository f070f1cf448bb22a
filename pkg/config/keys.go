package config

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "MEDISYNC"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Environment variable names referenced outside struct tags (error messages,
// bootstrap, tests).
const (
	EnvAppEnv   = "MEDISYNC_APP_ENV"
	EnvPort     = "MEDISYNC_APP_PORT"
	EnvLogLevel = "MEDISYNC_LOG_LEVEL"

	EnvDBDSN  = "MEDISYNC_DB_DSN"
	EnvDBHost = "MEDISYNC_DB_HOST"
	EnvDBUser = "MEDISYNC_DB_USER"
	EnvDBName = "MEDISYNC_DB_NAME"

	EnvRedisURL = "MEDISYNC_REDIS_URL"

	EnvJWTSecret = "MEDISYNC_JWT_SECRET"
	EnvJWTIssuer = "MEDISYNC_JWT_ISSUER"

	EnvRazorpayKeyID     = "MEDISYNC_RAZORPAY_KEY_ID"
	EnvRazorpayKeySecret = "MEDISYNC_RAZORPAY_KEY_SECRET"

	EnvGCPProjectID    = "MEDISYNC_GCP_PROJECT_ID"
	EnvNotificationSub = "MEDISYNC_PUBSUB_NOTIFICATION_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
