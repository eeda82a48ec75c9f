package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Default runtime settings.
const (
	DefaultLinkTimeout = 600 * time.Second
	DefaultLogMaxBytes = 5 << 20
)

// RuntimeConfig holds process-level settings read from environment variables.
// They tune behavior for a single invocation and are never persisted.
type RuntimeConfig struct {
	Debug       bool          // KELDRIS_DESKTOP_DEBUG
	LinkTimeout time.Duration // KELDRIS_DESKTOP_LINK_TIMEOUT, in seconds
	LogMaxBytes int64         // KELDRIS_DESKTOP_LOG_MAX_BYTES
	RdiffBinary string        // KELDRIS_DESKTOP_RDIFF_BACKUP
	SSHBinary   string        // KELDRIS_DESKTOP_SSH
}

// LoadRuntimeConfig reads runtime settings from environment variables.
func LoadRuntimeConfig() RuntimeConfig {
	timeout := getEnvInt("KELDRIS_DESKTOP_LINK_TIMEOUT", int(DefaultLinkTimeout/time.Second))
	if timeout <= 0 {
		timeout = int(DefaultLinkTimeout / time.Second)
	}

	maxBytes := getEnvInt("KELDRIS_DESKTOP_LOG_MAX_BYTES", DefaultLogMaxBytes)
	if maxBytes < 0 {
		maxBytes = DefaultLogMaxBytes
	}

	return RuntimeConfig{
		Debug:       getEnvBool("KELDRIS_DESKTOP_DEBUG", false),
		LinkTimeout: time.Duration(timeout) * time.Second,
		LogMaxBytes: int64(maxBytes),
		RdiffBinary: getEnvString("KELDRIS_DESKTOP_RDIFF_BACKUP", "rdiff-backup"),
		SSHBinary:   getEnvString("KELDRIS_DESKTOP_SSH", "ssh"),
	}
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}
