package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort  string
	LogLevel string

	LLMProvider string
	ModelName   string
	Temperature float64

	EmbeddingsProvider string
	EmbeddingsName     string
	EmbeddingsDim      int

	OllamaURL     string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GoogleAPIKey  string

	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantUseTLS     bool
	QdrantCollection string

	SourceFolder       string
	RAGTopK            int
	ExtractionMaxChars int

	PostgresDSN string

	NATSURL     string
	NATSSubject string

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int

	WorkerMetricsPort string
}

// Load reads the process configuration once. Values from a local .env file
// fill in variables the environment does not already set.
func Load() Config {
	_ = godotenv.Load()

	llmProvider := strings.ToLower(mustEnv("LLM_PROVIDER", "gemini"))
	embeddingsProvider := strings.ToLower(mustEnv("EMBEDDINGS_PROVIDER", llmProvider))
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		LLMProvider: llmProvider,
		ModelName:   mustEnv("MODEL_NAME", defaultModel(llmProvider)),
		Temperature: mustEnvFloat("TEMPERATURE", 0),

		EmbeddingsProvider: embeddingsProvider,
		EmbeddingsName:     mustEnv("EMBEDDINGS_NAME", defaultEmbeddings(embeddingsProvider)),
		EmbeddingsDim:      mustEnvInt("EMBEDDINGS_DIM", 0),

		OllamaURL:     mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OpenAIAPIKey:  mustEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: mustEnv("OPENAI_BASE_URL", ""),
		GoogleAPIKey:  mustEnv("GOOGLE_API_KEY", ""),

		QdrantHost:       mustEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       mustEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     mustEnv("QDRANT_API_KEY", ""),
		QdrantUseTLS:     mustEnvBool("QDRANT_USE_TLS", false),
		QdrantCollection: mustEnv("QDRANT_COLLECTION", "sumulas_jornada"),

		SourceFolder:       mustEnv("SOURCE_FOLDER", "./data/sumulas"),
		RAGTopK:            mustEnvInt("RAG_TOP_K", 10),
		ExtractionMaxChars: mustEnvInt("EXTRACTION_MAX_CHARS", 12000),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSURL:     mustEnv("NATS_URL", ""),
		NATSSubject: mustEnv("NATS_SUBJECT", "sumulas.ingest"),

		APIRateLimitRPS:   mustEnvFloat("API_RATE_LIMIT_RPS", 5),
		APIRateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 10),
		APIMaxInFlight:    mustEnvInt("API_MAX_IN_FLIGHT", 16),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "ollama":
		return "llama3.1:8b"
	case "openai":
		return "gpt-4o-mini"
	default:
		return "gemini-1.5-flash"
	}
}

func defaultEmbeddings(provider string) string {
	switch provider {
	case "ollama":
		return "nomic-embed-text"
	case "openai":
		return "text-embedding-3-small"
	default:
		return "text-embedding-004"
	}
}

func mustEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return parsed
}
