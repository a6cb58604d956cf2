// Package config collects every environment-driven setting the server and
// CLI need, read once at startup from environment variables. The CLI's
// client verbs let --user and --api-url flags override RIVAULT_USER and
// API_URL. The server's logger is configured from the root command's
// --log-level/--log-json flags; the LogLevel and LogJSON fields read here
// are not applied to it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Server is the configuration for `rivault serve`.
type Server struct {
	Port             int
	AllowedOrigins   []string
	DataDir          string
	BlobBackend      string // "bolt" or "fs"
	PBKDF2Iterations int
	MaxChunkBytes    int64
	ChunkSizeBytes   int64
	OverrideLockCode string
	LogLevel         string
	LogJSON          bool
	MetricsPort      int
}

// ServerFromEnv builds a Server config from the environment, matching
// spec.md §6's environment keys plus this implementation's additions.
func ServerFromEnv() Server {
	return Server{
		Port:             envInt("PORT", 8080),
		AllowedOrigins:   envList("ALLOWED_ORIGINS", []string{"*"}),
		DataDir:          envString("DATA_DIR", "./data"),
		BlobBackend:      envString("BLOB_BACKEND", "bolt"),
		PBKDF2Iterations: envInt("PBKDF2_ITERATIONS", 100_000),
		MaxChunkBytes:    envInt64("MAX_CHUNK_BYTES", 20<<20),
		ChunkSizeBytes:   envInt64("CHUNK_SIZE_BYTES", 5<<20),
		OverrideLockCode: envString("OVERRIDE_LOCK_CODE", ""),
		LogLevel:         envString("LOG_LEVEL", "info"),
		LogJSON:          envBool("LOG_JSON", true),
		MetricsPort:      envInt("METRICS_PORT", 9090),
	}
}

// Client is the configuration for the `rivault` CLI's client-style verbs.
type Client struct {
	APIURL string
	User   string
}

// ClientFromEnv builds a Client config from the environment.
func ClientFromEnv() Client {
	return Client{
		APIURL: envString("API_URL", "http://localhost:8080"),
		User:   envString("RIVAULT_USER", ""),
	}
}

// Validate reports a descriptive error for any setting that would make the
// server unable to start, rather than failing later on the first request
// that happens to touch the bad value.
func (s Server) Validate() error {
	if s.BlobBackend != "bolt" && s.BlobBackend != "fs" {
		return fmt.Errorf("config: BLOB_BACKEND must be \"bolt\" or \"fs\", got %q", s.BlobBackend)
	}
	if s.PBKDF2Iterations < 1000 {
		return fmt.Errorf("config: PBKDF2_ITERATIONS too low (%d), refuses to weaken key derivation", s.PBKDF2Iterations)
	}
	if s.MaxChunkBytes <= 0 {
		return fmt.Errorf("config: MAX_CHUNK_BYTES must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
