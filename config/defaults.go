package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultHost keeps the server on loopback unless asked otherwise.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the chat listen port.
	DefaultPort = 6969

	// DefaultBanDuration is how long an IP stays banned after reaching
	// the strike limit.
	DefaultBanDuration = 10 * time.Minute

	// DefaultMessageRate is the minimum spacing between two accepted
	// messages from one connection.
	DefaultMessageRate = 1 * time.Second

	// DefaultStrikeLimit is the number of consecutive strikes that
	// bans a peer.
	DefaultStrikeLimit = 10

	// DefaultTokenFormat renders random bytes as uppercase hex.
	DefaultTokenFormat = "hex"

	// DefaultTokenBytes is the hex token's entropy in bytes.
	DefaultTokenBytes = 16

	// DefaultTokenWords is the passphrase token's word count.
	DefaultTokenWords = 4

	// DefaultReadBufferSize is the size of a single socket read.
	DefaultReadBufferSize = 64

	// MaxReadBufferSize caps ReadBufferSize at the reader pool's
	// buffer size.
	MaxReadBufferSize = 4 * 1024

	// DefaultMaxClients bounds concurrently served connections.
	DefaultMaxClients = 1024

	// DefaultGracePeriod is how long shutdown waits for readers.
	DefaultGracePeriod = 5 * time.Second

	// DefaultVerbosity logs connects, bans and auth results.
	DefaultVerbosity = 1
)

// Default returns a Config populated with every default.
func Default() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		BanDuration:    DefaultBanDuration,
		MessageRate:    DefaultMessageRate,
		StrikeLimit:    DefaultStrikeLimit,
		TokenFormat:    DefaultTokenFormat,
		ReadBufferSize: DefaultReadBufferSize,
		MaxClients:     DefaultMaxClients,
		GracePeriod:    DefaultGracePeriod,
		Verbose:        DefaultVerbosity,
	}
}
