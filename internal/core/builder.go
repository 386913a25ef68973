package core

import (
	"fmt"

	"chatd/config"
	"chatd/internal/chat"
	"chatd/internal/metrics"
	"chatd/internal/token"
	"chatd/internal/transport"
	"chatd/util"
)

// Build constructs the server Mode from the given configuration.
// cfg.Token must already be set; see [ResolveToken].
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("no access token configured")
	}

	m := metrics.New()
	return &ServeMode{
		Address: cfg.Address(),
		Opener:  &transport.TCPOpener{},
		Chat: chat.Config{
			Token:       cfg.Token,
			BanDuration: cfg.BanDuration,
			MessageRate: cfg.MessageRate,
			StrikeLimit: cfg.StrikeLimit,
			Logger:      logger,
			Metrics:     m,
		},
		ReadSize:    cfg.ReadBufferSize,
		MaxClients:  cfg.MaxClients,
		GracePeriod: cfg.GracePeriod,
		Logger:      logger,
		Metrics:     m,
	}, nil
}

// ResolveToken returns the explicit token from cfg, or generates one
// in the configured format.
func ResolveToken(cfg *config.Config) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	tok, err := token.Generate(cfg.TokenFormat, cfg.EffectiveTokenLength())
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return tok, nil
}
