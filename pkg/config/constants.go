package config

// EnvPrefix namespaces every environment variable this service reads.
const EnvPrefix = "lumen"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "LUMEN_APP_ENV"
	EnvPort   = "LUMEN_APP_PORT"

	EnvDBDSN  = "LUMEN_DB_DSN"
	EnvDBHost = "LUMEN_DB_HOST"
	EnvDBUser = "LUMEN_DB_USER"
	EnvDBName = "LUMEN_DB_NAME"

	EnvRedisURL = "LUMEN_REDIS_URL"

	EnvGCPProjectID        = "LUMEN_GCP_PROJECT_ID"
	EnvPubSubReceiptsTopic = "LUMEN_PUBSUB_RECEIPTS_TOPIC"
	EnvPubSubReceiptsSub   = "LUMEN_PUBSUB_RECEIPTS_SUBSCRIPTION"

	EnvStripeAPIKey        = "LUMEN_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "LUMEN_STRIPE_WEBHOOK_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
