package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port        int
	CORSOrigins []string

	// Stem discovery and decoding
	Extensions      []string // supported file extensions, lower case with dot
	ResampleQuality int      // beep resampler quality (1-64)
	SoftLimit       bool     // pass the mix through a soft limiter

	// Output
	Outputs        []string      // "device", "stream" or both
	StreamBitrate  int           // bits/s for MP3 and Opus listeners
	StatusInterval time.Duration // websocket status push cadence

	SettingsFile string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:        envInt("STEMS_PORT", 8080),
		CORSOrigins: envList("STEMS_CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		Extensions:      envList("STEMS_EXTENSIONS", []string{".mp3", ".flac"}),
		ResampleQuality: envInt("STEMS_RESAMPLE_QUALITY", 4),
		SoftLimit:       envBool("STEMS_SOFT_LIMIT", false),

		Outputs:        envList("STEMS_OUTPUTS", []string{"device"}),
		StreamBitrate:  envInt("STEMS_STREAM_BITRATE", 128000),
		StatusInterval: time.Duration(envInt("STEMS_STATUS_INTERVAL_MS", 250)) * time.Millisecond,

		SettingsFile: envStr("STEMS_SETTINGS_FILE", defaultSettingsFile()),
	}
}

// HasOutput reports whether name is one of the configured outputs.
func (c Config) HasOutput(name string) bool {
	for _, o := range c.Outputs {
		if o == name {
			return true
		}
	}
	return false
}

func defaultSettingsFile() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".stemplayer-settings.json"
	}
	return filepath.Join(homeDir, ".stemplayer-settings.json")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envList splits a comma-separated value, trimming and lower-casing items.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
