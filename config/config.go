// Package config defines the runtime configuration for chatd and the
// layers it is loaded from.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	chaterrors "chatd/internal/errors"
)

// Token formats understood by the token generator.
const (
	TokenFormatHex   = "hex"
	TokenFormatWords = "words"
)

// Config holds every tuneable for a chatd server.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Host           string
	Port           int
	MaxClients     int
	ReadBufferSize int

	// ── Policy ───────────────────────────────────────────────────────
	BanDuration time.Duration
	MessageRate time.Duration
	StrikeLimit int

	// ── Token ────────────────────────────────────────────────────────
	Token       string // explicit token; skips generation
	TokenFormat string // "hex" or "words"
	TokenLength int    // bytes (hex) or words; 0 = format default

	// ── Lifecycle / output ───────────────────────────────────────────
	GracePeriod time.Duration
	Redact      bool
	Verbose     int
	ConfigFile  string
}

// Address returns the listen address as host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EffectiveTokenLength resolves TokenLength against the format default.
func (c *Config) EffectiveTokenLength() int {
	if c.TokenLength > 0 {
		return c.TokenLength
	}
	if c.TokenFormat == TokenFormatWords {
		return DefaultTokenWords
	}
	return DefaultTokenBytes
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &chaterrors.ConfigError{
			Field: "port", Value: c.Port,
			Message: "out of range 0-65535",
			Hint:    "use 0 to let the kernel pick a free port",
		}
	}
	if c.BanDuration <= 0 {
		return &chaterrors.ConfigError{
			Field: "ban-duration", Value: c.BanDuration,
			Message: "must be positive",
			Hint:    "durations take a unit, e.g. 10m or 90s",
		}
	}
	if c.MessageRate <= 0 {
		return &chaterrors.ConfigError{
			Field: "message-rate", Value: c.MessageRate,
			Message: "must be positive",
			Hint:    "durations take a unit, e.g. 1s or 500ms",
		}
	}
	if c.StrikeLimit < 1 {
		return &chaterrors.ConfigError{
			Field: "strike-limit", Value: c.StrikeLimit,
			Message: "must be at least 1",
		}
	}
	if c.ReadBufferSize < 1 || c.ReadBufferSize > MaxReadBufferSize {
		return &chaterrors.ConfigError{
			Field: "read-size", Value: c.ReadBufferSize,
			Message: fmt.Sprintf("out of range 1-%d", MaxReadBufferSize),
		}
	}
	if c.MaxClients < 1 {
		return &chaterrors.ConfigError{
			Field: "max-clients", Value: c.MaxClients,
			Message: "must be at least 1",
		}
	}
	if c.GracePeriod < 0 {
		return &chaterrors.ConfigError{
			Field: "grace-period", Value: c.GracePeriod,
			Message: "must not be negative",
		}
	}

	if c.Token != "" {
		return nil
	}
	switch c.TokenFormat {
	case TokenFormatHex, TokenFormatWords:
	case "":
		return &chaterrors.ConfigError{
			Field:   "token-format",
			Message: "must not be empty",
			Hint:    `use "hex" or "words"`,
		}
	default:
		return &chaterrors.ConfigError{
			Field: "token-format", Value: c.TokenFormat,
			Message: "unknown format",
			Hint:    `use "hex" or "words"`,
		}
	}
	if c.TokenLength < 0 {
		return &chaterrors.ConfigError{
			Field: "token-length", Value: c.TokenLength,
			Message: "must not be negative",
		}
	}
	if c.TokenFormat == TokenFormatHex && c.TokenLength > 0 && c.TokenLength < 8 {
		return &chaterrors.ConfigError{
			Field: "token-length", Value: c.TokenLength,
			Message: "hex tokens need at least 8 bytes",
			Hint:    "the default of 16 bytes gives a 32 character token",
		}
	}
	return nil
}
