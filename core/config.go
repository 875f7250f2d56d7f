package core

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings for a node process.
type Config struct {
	NatsURL        string
	EmbeddedNats   bool
	APIPort        int
	AgentCount     int
	SessionTimeout time.Duration
	StepInterval   time.Duration
	LogDir         string
	OutcomeLog     string
}

// LoadConfig reads .env (if present) and environment variables, falling back
// to defaults suitable for a local single-process run.
func LoadConfig() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	return Config{
		NatsURL:        getEnv("TRUSTMESH_NATS_URL", "nats://127.0.0.1:4222"),
		EmbeddedNats:   getEnvBool("TRUSTMESH_EMBEDDED_NATS", true),
		APIPort:        getEnvInt("TRUSTMESH_API_PORT", 0),
		AgentCount:     getEnvInt("TRUSTMESH_AGENT_COUNT", 3),
		SessionTimeout: getEnvDuration("TRUSTMESH_SESSION_TIMEOUT", 5*time.Second),
		StepInterval:   getEnvDuration("TRUSTMESH_STEP_INTERVAL", time.Second),
		LogDir:         getEnv("TRUSTMESH_LOG_DIR", "logs"),
		OutcomeLog:     getEnv("TRUSTMESH_OUTCOME_LOG", "data/outcomes.log"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, os.Getenv(key), fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %q, using default %s", key, os.Getenv(key), fallback)
	}
	return fallback
}
