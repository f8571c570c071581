package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Stripe    StripeConfig
	Generator GeneratorConfig
	Email     EmailConfig
	Storage   StorageConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Port        string
	FrontendURL string
}

type DatabaseConfig struct {
	URL string
}

type JWTConfig struct {
	Secret string
}

type StripeConfig struct {
	SecretKey         string
	WebhookSecret     string
	PriceProfessional string
	PriceAgency       string
}

type GeneratorConfig struct {
	APIKey   string
	Endpoint string
}

type EmailConfig struct {
	ResendAPIKey string
}

type StorageConfig struct {
	Bucket string
	Region string
}

type MetricsConfig struct {
	Addr string
}

func Load() *Config {
	godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "3000"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Stripe: StripeConfig{
			SecretKey:         getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:     getEnv("STRIPE_WEBHOOK_SECRET", ""),
			PriceProfessional: getEnv("STRIPE_PRICE_PROFESSIONAL", ""),
			PriceAgency:       getEnv("STRIPE_PRICE_AGENCY", ""),
		},
		Generator: GeneratorConfig{
			APIKey:   getEnv("GENERATOR_API_KEY", ""),
			Endpoint: getEnv("GENERATOR_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
		},
		Email: EmailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
		},
		Storage: StorageConfig{
			Bucket: getEnv("AWS_BUCKET_NAME", "appraisalstudio-exports"),
			Region: getEnv("AWS_REGION", "eu-central-1"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
