package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Storage Storage
	Sources Sources
	CPF     CPF
	Server  Server
}

// Storage holds storage-related configuration
type Storage struct {
	Type        string // "postgres", "mongodb", "memory"
	PostgresURI string
	MongoDBURI  string
	MongoDBName string
}

// Sources holds the per-source fetch configuration. Timeout and Retries apply
// to every source; Retries is the number of extra attempts beyond the first.
type Sources struct {
	DirectoryURL   string
	TimeclockURL   string
	TimeclockToken string
	AccountingURL  string
	ERPURL         string
	PortalURL      string
	LogicURL       string
	Timeout        time.Duration
	Retries        int
}

// CPF holds the CPF reconciliation subsystem configuration. SourceDSN points
// at the external MySQL base the local caches are refreshed from.
type CPF struct {
	SourceDSN      string
	WebhookURL     string
	WebhookField   string
	ExcludedIDs    []int64
	RequestTimeout time.Duration
}

// Server holds HTTP server configuration
type Server struct {
	Port int
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{
		Storage: Storage{
			Type:        getEnv("STORAGE_TYPE", "postgres"),
			PostgresURI: getEnv("POSTGRES_URI", ""),
			MongoDBURI:  getEnv("MONGODB_URI", ""),
			MongoDBName: getEnv("MONGODB_DATABASE", "usersync"),
		},
		Sources: Sources{
			DirectoryURL:   getEnv("DIRECTORY_URL", ""),
			TimeclockURL:   getEnv("TIMECLOCK_URL", ""),
			TimeclockToken: getEnv("TIMECLOCK_TOKEN", ""),
			AccountingURL:  getEnv("ACCOUNTING_URL", ""),
			ERPURL:         getEnv("ERP_URL", ""),
			PortalURL:      getEnv("PORTAL_URL", ""),
			LogicURL:       getEnv("LOGIC_URL", ""),
			Timeout:        getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
			Retries:        getEnvInt("REQUEST_RETRIES", 0),
		},
		CPF: CPF{
			SourceDSN:      getEnv("CPF_SOURCE_DSN", ""),
			WebhookURL:     getEnv("WEBHOOK_URL", ""),
			WebhookField:   getEnv("WEBHOOK_CPF_FIELD", "UF_USR_1766407282224"),
			ExcludedIDs:    getEnvInt64List("CPF_EXCLUDED_IDS", defaultExcludedIDs),
			RequestTimeout: getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Server: Server{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
	}

	return cfg, nil
}

// Directory ids excluded from the CPF cache refresh: service accounts and
// terminated users that still exist upstream.
var defaultExcludedIDs = []int64{
	11, 1, 10525, 9649, 16, 16019, 1476, 13861, 20377,
	3279, 21583, 5983, 6, 1388, 4841, 6093, 8951, 922, 9,
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvInt64List(key string, defaultValue []int64) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, id)
	}
	return out
}
