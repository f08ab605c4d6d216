// Package config resolves runtime configuration from environment variables
// with sensible defaults.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the recording client.
type Config struct {
	Server  ServerConfig
	Session SessionConfig
	Audio   AudioConfig
	Battery BatteryConfig
}

type ServerConfig struct {
	// URL is the server base URL; ws(s) and http(s) schemes both work.
	URL            string
	Username       string
	ConnectTimeout time.Duration
	ConnectRetries int
	RetryDelay     time.Duration
	HTTPTimeout    time.Duration
}

type SessionConfig struct {
	ChunkInterval     time.Duration
	BatteryThreshold  int
	MinChunkBytes     int
	AckWait           time.Duration
	ServerErrorBudget int
	KeepalivePeriod   time.Duration
	Language          string
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type BatteryConfig struct {
	SysfsRoot string
}

// Load resolves configuration from environment variables.
func Load() (Config, error) {
	serverURL := strings.TrimSpace(os.Getenv("MICBRIDGE_SERVER_URL"))
	if serverURL == "" {
		return Config{}, errors.New("MICBRIDGE_SERVER_URL is not configured")
	}

	cfg := Config{
		Server: ServerConfig{
			URL:            serverURL,
			Username:       envOrDefault("MICBRIDGE_USERNAME", defaultUsername()),
			ConnectTimeout: envOrDefaultDuration("MICBRIDGE_CONNECT_TIMEOUT", 10*time.Second),
			ConnectRetries: envOrDefaultInt("MICBRIDGE_CONNECT_RETRIES", 3),
			RetryDelay:     envOrDefaultDuration("MICBRIDGE_RETRY_DELAY", time.Second),
			HTTPTimeout:    envOrDefaultDuration("MICBRIDGE_HTTP_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			ChunkInterval:     envOrDefaultDuration("MICBRIDGE_CHUNK_INTERVAL", 20*time.Second),
			BatteryThreshold:  envOrDefaultInt("MICBRIDGE_BATTERY_THRESHOLD", 5),
			MinChunkBytes:     envOrDefaultInt("MICBRIDGE_MIN_CHUNK_BYTES", 3200),
			AckWait:           envOrDefaultDuration("MICBRIDGE_ACK_WAIT", 15*time.Second),
			ServerErrorBudget: envOrDefaultInt("MICBRIDGE_SERVER_ERROR_BUDGET", 3),
			KeepalivePeriod:   envOrDefaultDuration("MICBRIDGE_KEEPALIVE_PERIOD", 30*time.Second),
			Language:          envOrDefault("MICBRIDGE_LANGUAGE", "en"),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("MICBRIDGE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("MICBRIDGE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("MICBRIDGE_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("MICBRIDGE_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("MICBRIDGE_CHANNELS", 1),
		},
		Battery: BatteryConfig{
			SysfsRoot: strings.TrimSpace(os.Getenv("MICBRIDGE_BATTERY_SYSFS")),
		},
	}

	if cfg.Session.ChunkInterval < time.Second {
		cfg.Session.ChunkInterval = 20 * time.Second
	}
	if cfg.Session.BatteryThreshold < 0 || cfg.Session.BatteryThreshold > 100 {
		cfg.Session.BatteryThreshold = 5
	}
	if cfg.Server.ConnectRetries <= 0 {
		cfg.Server.ConnectRetries = 3
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}

	return cfg, nil
}

func defaultUsername() string {
	if name := strings.TrimSpace(os.Getenv("USER")); name != "" {
		return name
	}
	return "micbridge"
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDefaultDuration accepts Go duration strings ("20s") and, for
// compatibility with older deployments, bare integers meaning seconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
