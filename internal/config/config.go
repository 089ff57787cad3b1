package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	Port           string
	MongoURI       string
	MongoDB        string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	TavilyBaseURL  string
	TavilyAPIKey   string
	ConverterURL   string
	Models         ModelRegistry
}

func Load() *Config {
	return &Config{
		Port:           getenv("PORT", "8080"),
		MongoURI:       getenv("MONGO_URI", ""),
		MongoDB:        getenv("MONGO_DB", "deep_research"),
		RedisAddr:      getenv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		RedisDB:        getenvInt("REDIS_DB", 0),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", "minio:9000"),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "report-assets"),
		MinioUseSSL:    getenv("MINIO_USE_SSL", "false") == "true",
		TavilyBaseURL:  getenv("TAVILY_BASE_URL", "https://api.tavily.com"),
		TavilyAPIKey:   getenv("TAVILY_API_KEY", ""),
		ConverterURL:   getenv("CONVERTER_URL", "http://converter:8001"),
		Models:         loadModels(),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// ModelEntity is the endpoint/credential/model triple one pipeline step
// talks to.
type ModelEntity struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ModelRegistry maps a closed set of step keys to model entities. Resolved
// once at startup and passed by reference, never re-read per call.
type ModelRegistry map[string]ModelEntity

// ModelSteps is the closed set of per-step model slots.
var ModelSteps = []string{
	"ask_questions", "plan", "serp", "search",
	"search_summary", "report_final", "value_extract", "search_check",
}

// loadModels builds the registry from LLM_BASE_URL/LLM_API_KEY/LLM_MODEL
// defaults, each overridable per step as LLM_<STEP>_MODEL etc.
func loadModels() ModelRegistry {
	base := getenv("LLM_BASE_URL", "https://api.openai.com/v1")
	key := getenv("LLM_API_KEY", "")
	model := getenv("LLM_MODEL", "gpt-4o-mini")

	reg := make(ModelRegistry, len(ModelSteps))
	for _, step := range ModelSteps {
		prefix := "LLM_" + strings.ToUpper(step) + "_"
		reg[step] = ModelEntity{
			BaseURL: getenv(prefix+"BASE_URL", base),
			APIKey:  getenv(prefix+"API_KEY", key),
			Model:   getenv(prefix+"MODEL", model),
		}
	}
	return reg
}

// Resolve returns the entity for a step, falling back to the serp slot for
// unknown keys so a miswired caller still reaches a working endpoint.
func (r ModelRegistry) Resolve(step string) ModelEntity {
	if e, ok := r[step]; ok {
		return e
	}
	return r["serp"]
}
