// Package cmd wires up the CLI flags and starts the chat server.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"chatd/config"
	"chatd/internal/core"
	"chatd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X chatd/cmd.version=2.0.0"
var version = "0.1.0" //nolint:gochecknoglobals

// Execute parses args and runs the server until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

// flagValues holds raw flag values.  They are applied on top of the
// file and environment layers only when the user actually set them.
type flagValues struct {
	host        string
	port        int
	banDuration time.Duration
	messageRate time.Duration
	strikeLimit int
	token       string
	tokenFormat string
	tokenLength int
	readSize    int
	maxClients  int
	gracePeriod time.Duration
	redact      bool
	verbose     int
	quiet       bool

	configFile  string
	dryRun      bool
	showVersion bool
	showHelp    bool
}

func newFlagSet(v *flagValues, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("chatd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&v.host, "host", "H", config.DefaultHost, "Address to bind")
	fs.IntVarP(&v.port, "port", "p", config.DefaultPort, "Port to listen on (0 = any free port)")
	fs.IntVar(&v.readSize, "read-size", config.DefaultReadBufferSize, "Bytes per socket read")
	fs.IntVar(&v.maxClients, "max-clients", config.DefaultMaxClients, "Maximum concurrent connections")
	fs.DurationVar(&v.gracePeriod, "grace-period", config.DefaultGracePeriod, "How long shutdown waits for connections to drain")

	// ── policy ───────────────────────────────────────────────────
	fs.DurationVar(&v.banDuration, "ban-duration", config.DefaultBanDuration, "How long an IP stays banned")
	fs.DurationVar(&v.messageRate, "message-rate", config.DefaultMessageRate, "Minimum spacing between messages")
	fs.IntVar(&v.strikeLimit, "strike-limit", config.DefaultStrikeLimit, "Strikes before a ban")

	// ── token ────────────────────────────────────────────────────
	fs.StringVar(&v.token, "token", "", "Use this token instead of generating one")
	fs.StringVar(&v.tokenFormat, "token-format", config.DefaultTokenFormat, "Generated token format: hex or words")
	fs.IntVar(&v.tokenLength, "token-length", 0, "Random bytes (hex) or words (words); 0 = default")

	// ── output ───────────────────────────────────────────────────
	fs.BoolVar(&v.redact, "redact", false, "Hide addresses and message text in logs")
	fs.CountVarP(&v.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&v.quiet, "quiet", "q", false, "Only log errors")

	// ── misc ─────────────────────────────────────────────────────
	fs.StringVar(&v.configFile, "config", "", "TOML config file (also $CHATD_CONFIG)")
	fs.BoolVar(&v.dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&v.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&v.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs, stderr) }
	return fs
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var v flagValues
	fs := newFlagSet(&v, stderr)

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if v.showHelp {
		printUsage(fs, stderr)
		return nil
	}
	if v.showVersion {
		fmt.Fprintf(stdout, "chatd %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	// ── layer: defaults → file → env → flags ─────────────────────
	cfg, err := resolve(fs, &v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	tok, err := core.ResolveToken(cfg)
	if err != nil {
		return err
	}
	cfg.Token = tok

	if v.dryRun {
		printConfig(stdout, cfg)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(stderr)
	logger.SetTimestamps(wantTimestamps(stderr, cfg.Verbose))
	logger.SetRedact(cfg.Redact)

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Token: %s\n", cfg.Token)
	return mode.Run(ctx)
}

// resolve layers the configuration sources, lowest precedence first.
func resolve(fs *flag.FlagSet, v *flagValues) (*config.Config, error) {
	cfg := config.Default()

	if path := config.ConfigPath(v.configFile); path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}
	config.LoadFromEnv(cfg)

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("host", func() { cfg.Host = v.host })
	set("port", func() { cfg.Port = v.port })
	set("read-size", func() { cfg.ReadBufferSize = v.readSize })
	set("max-clients", func() { cfg.MaxClients = v.maxClients })
	set("grace-period", func() { cfg.GracePeriod = v.gracePeriod })
	set("ban-duration", func() { cfg.BanDuration = v.banDuration })
	set("message-rate", func() { cfg.MessageRate = v.messageRate })
	set("strike-limit", func() { cfg.StrikeLimit = v.strikeLimit })
	set("token", func() { cfg.Token = v.token })
	set("token-format", func() { cfg.TokenFormat = v.tokenFormat })
	set("token-length", func() { cfg.TokenLength = v.tokenLength })
	set("redact", func() { cfg.Redact = v.redact })
	set("verbose", func() { cfg.Verbose = config.DefaultVerbosity + v.verbose })
	set("quiet", func() {
		if v.quiet {
			cfg.Verbose = 0
		}
	})
	return cfg, nil
}

// wantTimestamps enables timestamps in debug mode and whenever logs go
// somewhere other than a terminal, e.g. a file or journald.
func wantTimestamps(w io.Writer, verbose int) bool {
	if verbose >= int(util.LogDebug) {
		return true
	}
	f, ok := w.(*os.File)
	return ok && !term.IsTerminal(int(f.Fd()))
}

// ── helpers ──────────────────────────────────────────────────────────

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "listen:        %s\n", cfg.Address())
	fmt.Fprintf(w, "ban duration:  %s\n", cfg.BanDuration)
	fmt.Fprintf(w, "message rate:  %s\n", cfg.MessageRate)
	fmt.Fprintf(w, "strike limit:  %d\n", cfg.StrikeLimit)
	fmt.Fprintf(w, "read size:     %d\n", cfg.ReadBufferSize)
	fmt.Fprintf(w, "max clients:   %d\n", cfg.MaxClients)
	fmt.Fprintf(w, "grace period:  %s\n", cfg.GracePeriod)
	if cfg.ConfigFile != "" {
		fmt.Fprintf(w, "config file:   %s\n", cfg.ConfigFile)
	}
	fmt.Fprintf(w, "Token: %s\n", cfg.Token)
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `chatd – token-protected broadcast chat server v%s

Every client must send the access token as its first line.  After that,
each line it sends is relayed to every other authenticated client.
Clients that flood or send malformed text are banned by IP.

Usage:
  chatd [options]

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  chatd                                  Listen on 127.0.0.1:6969
  chatd -H 0.0.0.0 -p 7000               Listen on all interfaces
  chatd --token-format words             Passphrase token
  chatd --strike-limit 3 --ban-duration 1h
  nc 127.0.0.1 6969                      Connect a client
`)
}
