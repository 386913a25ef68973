package config

// loader.go - configuration loading from a TOML file and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables
//   3. Config file (--config / CHATD_CONFIG)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

// ── Config file ──────────────────────────────────────────────────────

// fileConfig mirrors Config with TOML-friendly field types.  Durations
// are strings such as "10m" or "750ms".
type fileConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	MaxClients     int    `toml:"max_clients"`
	ReadBufferSize int    `toml:"read_buffer_size"`
	BanDuration    string `toml:"ban_duration"`
	MessageRate    string `toml:"message_rate"`
	StrikeLimit    int    `toml:"strike_limit"`
	Token          string `toml:"token"`
	TokenFormat    string `toml:"token_format"`
	TokenLength    int    `toml:"token_length"`
	GracePeriod    string `toml:"grace_period"`
	Redact         bool   `toml:"redact"`
	Verbose        int    `toml:"verbose"`
}

// LoadFile overlays the TOML file at path onto cfg.  Keys that are
// absent or zero leave the existing value untouched.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.Host != "" {
		cfg.Host = fc.Host
	}
	if fc.Port > 0 {
		cfg.Port = fc.Port
	}
	if fc.MaxClients > 0 {
		cfg.MaxClients = fc.MaxClients
	}
	if fc.ReadBufferSize > 0 {
		cfg.ReadBufferSize = fc.ReadBufferSize
	}
	if fc.StrikeLimit > 0 {
		cfg.StrikeLimit = fc.StrikeLimit
	}
	if fc.Token != "" {
		cfg.Token = fc.Token
	}
	if fc.TokenFormat != "" {
		cfg.TokenFormat = fc.TokenFormat
	}
	if fc.TokenLength > 0 {
		cfg.TokenLength = fc.TokenLength
	}
	if fc.Redact {
		cfg.Redact = true
	}
	if fc.Verbose > 0 {
		cfg.Verbose = fc.Verbose
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ban_duration", fc.BanDuration, &cfg.BanDuration},
		{"message_rate", fc.MessageRate, &cfg.MessageRate},
		{"grace_period", fc.GracePeriod, &cfg.GracePeriod},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the CHATD_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// duration syntax or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CHATD_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("CHATD_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := envInt("CHATD_MAX_CLIENTS"); v > 0 {
		cfg.MaxClients = v
	}
	if v := envInt("CHATD_READ_SIZE"); v > 0 {
		cfg.ReadBufferSize = v
	}

	// Policy
	if v := envDuration("CHATD_BAN_DURATION"); v > 0 {
		cfg.BanDuration = v
	}
	if v := envDuration("CHATD_MESSAGE_RATE"); v > 0 {
		cfg.MessageRate = v
	}
	if v := envInt("CHATD_STRIKE_LIMIT"); v > 0 {
		cfg.StrikeLimit = v
	}

	// Token
	if v := os.Getenv("CHATD_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("CHATD_TOKEN_FORMAT"); v != "" {
		cfg.TokenFormat = strings.ToLower(v)
	}
	if v := envInt("CHATD_TOKEN_LENGTH"); v > 0 {
		cfg.TokenLength = v
	}

	// Lifecycle / output
	if v := envDuration("CHATD_GRACE_PERIOD"); v > 0 {
		cfg.GracePeriod = v
	}
	if envBool("CHATD_REDACT") {
		cfg.Redact = true
	}
	if v := envInt("CHATD_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ConfigPath resolves the config file location: the --config flag wins
// over CHATD_CONFIG.  An empty result means no file.
func ConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CHATD_CONFIG")
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return 0
}
