package agent

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/keldris-desktop/internal/backup"
	"github.com/MacJediWizard/keldris-desktop/internal/config"
	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/MacJediWizard/keldris-desktop/internal/keys"
	"github.com/MacJediWizard/keldris-desktop/internal/remote"
	"github.com/rs/zerolog"
)

// KnownHostsProber refreshes known_hosts from the server's identity endpoint.
type KnownHostsProber struct {
	env        *env.Environment
	newService func(remoteURL string) (remote.Service, error)
	logger     zerolog.Logger
}

// NewKnownHostsProber creates a prober using newService to reach the server.
func NewKnownHostsProber(e *env.Environment, newService func(string) (remote.Service, error), logger zerolog.Logger) *KnownHostsProber {
	return &KnownHostsProber{
		env:        e,
		newService: newService,
		logger:     logger.With().Str("component", "hostkey_prober").Logger(),
	}
}

// Probe fetches the server host keys and replaces dest's known_hosts file
// when they cover dest.Host.
func (p *KnownHostsProber) Probe(ctx context.Context, dest backup.Destination) error {
	cfg, err := config.Load(p.env.ConfigPath())
	if err != nil {
		return err
	}
	if cfg.RemoteURL == "" {
		return fmt.Errorf("no server url configured")
	}

	svc, err := p.newService(cfg.RemoteURL)
	if err != nil {
		return err
	}
	identity, err := svc.GetServerIdentity(ctx)
	if err != nil {
		return err
	}
	if identity.RemoteHost != dest.Host {
		p.logger.Warn().
			Str("configured", dest.Host).
			Str("reported", identity.RemoteHost).
			Msg("server reports a different ssh host")
	}

	if err := keys.WriteKnownHosts(dest.KnownHostsPath, []byte(identity.KnownHosts), dest.Host); err != nil {
		return err
	}
	if _, err := keys.HostKeyCallback(dest.KnownHostsPath); err != nil {
		return err
	}
	p.logger.Info().Str("host", dest.Host).Msg("known hosts refreshed")
	return nil
}
