package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string
	DatabaseURL   string

	// Gemini (primary generation + embeddings)
	GeminiAPIKey           string
	GeminiModelID          string
	GeminiEmbeddingModelID string
	EmbeddingDimensions    int

	// Bedrock fallback LLM
	BedrockModelID      string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Pipeline dispatch
	UseMemoryQueue       bool
	PipelineQueueURL     string
	PipelineWorkers      int
	PipelineMaxRuns      int64
	PipelineStageTimeout time.Duration

	// Generation / review policy
	GenerateMaxAttempts     int
	ReviewMaxAttempts       int
	ReviewFailOpen          bool
	HighConfidenceThreshold float64

	// Retrieval
	RetrievalMatchThreshold float64
	RetrievalMatchCount     int

	// Keyword dictionary cache
	RedisAddr       string
	RedisPassword   string
	KeywordCacheTTL time.Duration

	// Email delivery
	EmailProvider     string // "sendgrid", "ses", or "" (disabled)
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string
	ReplyToEmail      string

	// Admin auth
	AdminJWTSecret string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		GeminiAPIKey:           getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:          getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		GeminiEmbeddingModelID: getEnv("GEMINI_EMBEDDING_MODEL_ID", "models/gemini-embedding-001"),
		EmbeddingDimensions:    getEnvAsInt("EMBEDDING_DIMENSIONS", 768),

		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", true),
		PipelineQueueURL:     getEnv("PIPELINE_QUEUE_URL", ""),
		PipelineWorkers:      getEnvAsInt("PIPELINE_WORKERS", 2),
		PipelineMaxRuns:      int64(getEnvAsInt("PIPELINE_MAX_CONCURRENT", 5)),
		PipelineStageTimeout: getEnvAsDuration("PIPELINE_STAGE_TIMEOUT", 120*time.Second),

		GenerateMaxAttempts:     getEnvAsInt("GENERATE_MAX_ATTEMPTS", 3),
		ReviewMaxAttempts:       getEnvAsInt("REVIEW_MAX_ATTEMPTS", 3),
		ReviewFailOpen:          getEnvAsBool("REVIEW_FAIL_OPEN", true),
		HighConfidenceThreshold: getEnvAsFloat("HIGH_CONFIDENCE_THRESHOLD", 0.85),

		RetrievalMatchThreshold: getEnvAsFloat("RETRIEVAL_MATCH_THRESHOLD", 0.65),
		RetrievalMatchCount:     getEnvAsInt("RETRIEVAL_MATCH_COUNT", 8),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		KeywordCacheTTL: getEnvAsDuration("KEYWORD_CACHE_TTL", 10*time.Minute),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", "report@ippo.example.com"),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Ippo Report"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Ippo Report"),
		ReplyToEmail:      getEnv("REPLY_TO_EMAIL", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
