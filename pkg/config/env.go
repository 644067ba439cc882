package config

// EnvPrefix is empty because every field carries its full variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "KEYMARKET_APP_ENV"
	EnvPort     = "KEYMARKET_APP_PORT"
	EnvLogLevel = "KEYMARKET_LOG_LEVEL"

	EnvDBDSN  = "KEYMARKET_DB_DSN"
	EnvDBHost = "KEYMARKET_DB_HOST"
	EnvDBUser = "KEYMARKET_DB_USER"
	EnvDBName = "KEYMARKET_DB_NAME"

	EnvRedisURL  = "KEYMARKET_REDIS_URL"
	EnvJWTSecret = "KEYMARKET_JWT_SECRET"

	EnvPlatformFeeRate     = "KEYMARKET_PLATFORM_FEE_RATE"
	EnvDefaultReferralRate = "KEYMARKET_DEFAULT_REFERRAL_RATE"
	EnvPlatformAccountID   = "KEYMARKET_PLATFORM_ACCOUNT_ID"
	EnvEarningsHold        = "KEYMARKET_EARNINGS_HOLD"
	EnvCronSchedule        = "KEYMARKET_CRON_SCHEDULE"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
