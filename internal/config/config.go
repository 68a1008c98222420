package config

import "github.com/kelseyhightower/envconfig"

type APIConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// orchestration policy
	DedupLookbackHours  int `envconfig:"DEDUP_LOOKBACK_HOURS" default:"24"`
	MaxMessagesPerDay   int `envconfig:"MAX_MESSAGES_PER_DAY" default:"3"`
	MaxMessagesPerWeek  int `envconfig:"MAX_MESSAGES_PER_WEEK" default:"10"`
	MaxFallbackAttempts int `envconfig:"MAX_FALLBACK_ATTEMPTS" default:"3"`
	BatchConcurrency    int `envconfig:"BATCH_CONCURRENCY" default:"8"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type DispatcherConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"20"`

	// provider endpoints and credentials
	SendGridAPIKey  string `envconfig:"SENDGRID_API_KEY"`
	SendGridBaseURL string `envconfig:"SENDGRID_BASE_URL" default:"https://api.sendgrid.com"`
	SendGridFrom    string `envconfig:"SENDGRID_FROM_EMAIL"`

	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `envconfig:"TWILIO_WHATSAPP_FROM"`
	TwilioBaseURL    string `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`

	SocialAPIToken string `envconfig:"SOCIAL_API_TOKEN"`
	SocialBaseURL  string `envconfig:"SOCIAL_BASE_URL"`

	// per-pod provider protection
	ProviderRPSPerPod float64 `envconfig:"PROVIDER_RPS_PER_POD" default:"5"`
	ProviderBurst     int     `envconfig:"PROVIDER_BURST" default:"10"`
}

type WebhookConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Shared-secret HMAC verification of provider callbacks
	WebhookSecret string `envconfig:"WEBHOOK_SECRET" required:"true"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadDispatcher() DispatcherConfig {
	var cfg DispatcherConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
