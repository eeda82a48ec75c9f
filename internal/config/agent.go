// Package config provides configuration management for the keldris-desktop agent.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/MacJediWizard/keldris-desktop/internal/errs"
	"github.com/MacJediWizard/keldris-desktop/internal/fsutil"
	"gopkg.in/yaml.v3"
)

// Schedule is the backup cadence chosen by the user.
type Schedule string

const (
	ScheduleHourly  Schedule = "HOURLY"
	ScheduleDaily   Schedule = "DAILY"
	ScheduleWeekly  Schedule = "WEEKLY"
	ScheduleMonthly Schedule = "MONTHLY"
)

// ParseSchedule parses a schedule name case-insensitively.
func ParseSchedule(s string) (Schedule, error) {
	switch Schedule(strings.ToUpper(strings.TrimSpace(s))) {
	case ScheduleHourly:
		return ScheduleHourly, nil
	case ScheduleDaily:
		return ScheduleDaily, nil
	case ScheduleWeekly:
		return ScheduleWeekly, nil
	case ScheduleMonthly:
		return ScheduleMonthly, nil
	}
	return "", fmt.Errorf("invalid schedule %q: use hourly, daily, weekly or monthly", s)
}

// IntervalHours returns the number of hours between two backups.
func (s Schedule) IntervalHours() int {
	switch s {
	case ScheduleHourly:
		return 1
	case ScheduleWeekly:
		return 24 * 7
	case ScheduleMonthly:
		return 24 * 30
	default:
		return 24
	}
}

// ProxyConfig holds proxy settings for talking to the remote web server.
type ProxyConfig struct {
	HTTPProxy   string `yaml:"proxy_http,omitempty"`
	HTTPSProxy  string `yaml:"proxy_https,omitempty"`
	SOCKS5Proxy string `yaml:"proxy_socks5,omitempty"`
	NoProxy     string `yaml:"no_proxy,omitempty"`
}

// HasProxy returns true if any proxy is configured.
func (p *ProxyConfig) HasProxy() bool {
	return p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != ""
}

// ScheduleConfig holds the agent's configuration. It is stored as a flat
// key-value YAML document; keys this version does not know about are kept in
// Extra and written back unchanged.
type ScheduleConfig struct {
	RemoteHost     string   `yaml:"remotehost,omitempty"`
	RemoteURL      string   `yaml:"remoteurl,omitempty"`
	RepositoryName string   `yaml:"repositoryname,omitempty"`
	Username       string   `yaml:"username,omitempty"`
	Schedule       Schedule `yaml:"schedule,omitempty"`
	Configured     bool     `yaml:"configured"`

	PrivateKeyPath string `yaml:"privatekey,omitempty"`
	PublicKeyPath  string `yaml:"publickey,omitempty"`
	KnownHostsPath string `yaml:"knownhosts,omitempty"`

	// MetricsPath enables the Prometheus textfile export when set.
	MetricsPath string `yaml:"metrics,omitempty"`

	ProxyConfig `yaml:",inline"`

	Extra map[string]any `yaml:",inline"`
}

// GetProxyConfig returns the proxy settings, or nil when none are set.
func (c *ScheduleConfig) GetProxyConfig() *ProxyConfig {
	if !c.ProxyConfig.HasProxy() {
		return nil
	}
	p := c.ProxyConfig
	return &p
}

// EffectiveSchedule returns the configured schedule, defaulting to daily.
func (c *ScheduleConfig) EffectiveSchedule() Schedule {
	if s, err := ParseSchedule(string(c.Schedule)); err == nil {
		return s
	}
	return ScheduleDaily
}

// ApplyDefaults fills key file locations from the environment when unset.
func (c *ScheduleConfig) ApplyDefaults(e *env.Environment) {
	if c.PrivateKeyPath == "" {
		c.PrivateKeyPath = e.PrivateKeyPath()
	}
	if c.PublicKeyPath == "" {
		c.PublicKeyPath = e.PublicKeyPath()
	}
	if c.KnownHostsPath == "" {
		c.KnownHostsPath = e.KnownHostsPath()
	}
}

// Validate checks that the fields required to run a backup are present.
func (c *ScheduleConfig) Validate() error {
	switch {
	case c.RemoteHost == "":
		return &errs.MisconfiguredError{Item: "remotehost"}
	case c.RepositoryName == "":
		return &errs.MisconfiguredError{Item: "repositoryname"}
	case c.Username == "":
		return &errs.MisconfiguredError{Item: "username"}
	}
	return nil
}

// CheckFiles verifies the key material and known-hosts file are readable.
func (c *ScheduleConfig) CheckFiles() error {
	files := []struct {
		item string
		path string
	}{
		{"private key", c.PrivateKeyPath},
		{"public key", c.PublicKeyPath},
		{"known hosts", c.KnownHostsPath},
	}
	for _, f := range files {
		if f.path == "" {
			return &errs.MisconfiguredError{Item: f.item}
		}
		fh, err := os.Open(f.path)
		if err != nil {
			return &errs.MisconfiguredError{Item: f.item, Err: err}
		}
		fh.Close()
	}
	return nil
}

// IsConfigured returns true if the agent completed linking.
func (c *ScheduleConfig) IsConfigured() bool {
	return c.Configured && c.RemoteHost != "" && c.RepositoryName != "" && c.Username != ""
}

// ClearLink forgets the remote identity. Key material is left on disk.
func (c *ScheduleConfig) ClearLink() {
	c.Username = ""
	c.RepositoryName = ""
	c.RemoteHost = ""
}

// Load reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func Load(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ScheduleConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg ScheduleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *ScheduleConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// User-only read/write: the file names the key material.
	if err := fsutil.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
