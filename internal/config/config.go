package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultBackendURL is used when BACKEND_URL is not set.
const DefaultBackendURL = "http://localhost:8000/chat/invoke"

// Config holds application configuration values loaded from environment variables.
type Config struct {
	HTTPPort    string
	BackendURL  string // Full URL including path, or a base URL; normalized by the relay client
	DatabaseURL string // Optional. Empty selects the in-memory store
	JWTSecret   string // Optional. Empty leaves /v1 routes unauthenticated

	ChunkDelay       time.Duration
	BackendTimeout   time.Duration
	BackendRateLimit float64 // Outbound calls per second, 0 means unlimited

	AllowedOrigins []string
	LogLevel       string
	Environment    string
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first, then checks actual environment variables.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file (useful for development)
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Could not load .env file. Using environment variables only.", err)
	}

	cfg := &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		BackendURL:       getEnv("BACKEND_URL", DefaultBackendURL),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		ChunkDelay:       time.Duration(getEnvInt("STREAM_CHUNK_DELAY_MS", 30)) * time.Millisecond,
		BackendTimeout:   time.Duration(getEnvInt("BACKEND_TIMEOUT_SECONDS", 120)) * time.Second,
		BackendRateLimit: getEnvFloat("BACKEND_RATE_LIMIT", 0),
		AllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Environment:      getEnv("APP_ENV", "development"),
	}

	if strings.TrimSpace(cfg.BackendURL) == "" {
		log.Printf("Warning: BACKEND_URL is empty, using default %s", DefaultBackendURL)
		cfg.BackendURL = DefaultBackendURL
	}

	log.Printf("Loaded config: Port=%s, Backend=%s, DB_URL=%s, Auth=%t, ChunkDelay=%s",
		cfg.HTTPPort, cfg.BackendURL, mask(cfg.DatabaseURL), cfg.JWTSecret != "", cfg.ChunkDelay)

	return cfg, nil
}

// IsProduction reports whether the production logging profile should be used.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Env variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, strconv.Itoa(fallback))
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		log.Printf("Warning: Invalid %s '%s', using default %d. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := getEnv(key, strconv.FormatFloat(fallback, 'f', -1, 64))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		log.Printf("Warning: Invalid %s '%s', using default %v. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "***"
}
