package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	ServerURL string `validate:"required,url"` // Required: public base URL of this WOPI host
	EditorURL string `validate:"required,url"` // Required: base URL of the Collabora/editor server

	DatabaseFile string `validate:"required"` // Path to SQLite token database (default: ./wopi.db)
	DataDir      string `validate:"required"` // Root directory for user files and templates (default: ./data)

	TokenTTL      time.Duration `validate:"gt=0"`          // Session token lifetime (default: 10h)
	RetryAttempts int           `validate:"min=1,max=100"` // Write-lock acquisition attempts (default: 5)
	RetryDelay    time.Duration `validate:"gt=0"`          // Pause between lock attempts (default: 500ms)

	AllowList      []string // Optional: CIDRs allowed to call the WOPI surface (empty: no filtering)
	TrustedRemotes []string // Optional: federated hosts, exact or "*." wildcards
	WatermarkText  string   // Optional: watermark shown to guest sessions

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           `validate:"min=1,max=65535"` // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired-token reaping interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		ServerURL: strings.TrimRight(os.Getenv("WOPI_SERVER_URL"), "/"),
		EditorURL: strings.TrimRight(os.Getenv("WOPI_EDITOR_URL"), "/"),

		DatabaseFile: getEnvOrDefault("WOPI_DATABASE_FILE", "wopi.db"),
		DataDir:      getEnvOrDefault("WOPI_DATA_DIR", "data"),

		TokenTTL:      getEnvDurationOrDefault("WOPI_TOKEN_TTL", 10*time.Hour),
		RetryAttempts: getEnvIntOrDefault("WOPI_RETRY_ATTEMPTS", 5),
		RetryDelay:    getEnvDurationOrDefault("WOPI_RETRY_DELAY", 500*time.Millisecond),

		AllowList:      getEnvListOrDefault("WOPI_ALLOWLIST", nil),
		TrustedRemotes: getEnvListOrDefault("WOPI_TRUSTED_REMOTES", nil),
		WatermarkText:  os.Getenv("WOPI_WATERMARK"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

// Validate rejects configurations the server cannot safely start with.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are read as seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}

// getEnvListOrDefault reads a comma-separated list, dropping empty entries.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
