package config

import (
	"os"
	"strconv"
)

// GetConnectionString returns the PostgreSQL connection string used by the
// engine's Postgres-backed stores (resolver, idempotency, audit, domain).
func GetConnectionString() string {
	connStr := os.Getenv("DB_CONN_STRING")
	if connStr == "" {
		return "postgres://localhost:5432/postgres?sslmode=disable"
	}
	return connStr
}

// EngineConfig holds the DSL engine's runtime options (§6.4), all
// overridable via environment variables so the same binary behaves
// the same way whether run as a CLI, a test, or a batch job.
type EngineConfig struct {
	StrictOnUnusedBinding       bool
	Intent                      string
	MaxSuggestions              int
	ResolverSimilarityThreshold float64
	ContinueOnError             bool
	CancellationCheckInterval   int // statements between cooperative cancellation checks
	GeminiAPIKey                string // empty disables the kyc.discover AI agent (§11)
}

// GetEngineConfig builds an EngineConfig from environment variables,
// defaulting to the values SPEC_FULL.md §9 settled on for the Open
// Questions left unresolved by the distilled spec.
func GetEngineConfig() EngineConfig {
	return EngineConfig{
		StrictOnUnusedBinding:       os.Getenv("DSL_STRICT_ON_UNUSED_BINDING") == "true",
		Intent:                      os.Getenv("DSL_INTENT"),
		MaxSuggestions:              getEnvInt("DSL_MAX_SUGGESTIONS", 5),
		ResolverSimilarityThreshold: getEnvFloat("DSL_RESOLVER_SIMILARITY_THRESHOLD", 0.3),
		ContinueOnError:             os.Getenv("DSL_EXECUTION_MODE") == "continue-on-error",
		CancellationCheckInterval:   getEnvInt("DSL_CANCELLATION_CHECK_INTERVAL", 1),
		GeminiAPIKey:                os.Getenv("GEMINI_API_KEY"),
	}
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
