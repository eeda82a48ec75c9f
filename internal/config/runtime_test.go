package config

import (
	"testing"
	"time"
)

func TestLoadRuntimeConfig_Defaults(t *testing.T) {
	t.Setenv("KELDRIS_DESKTOP_DEBUG", "")
	t.Setenv("KELDRIS_DESKTOP_LINK_TIMEOUT", "")
	t.Setenv("KELDRIS_DESKTOP_RDIFF_BACKUP", "")

	cfg := LoadRuntimeConfig()
	if cfg.Debug {
		t.Error("expected debug to be off by default")
	}
	if cfg.LinkTimeout != DefaultLinkTimeout {
		t.Errorf("LinkTimeout = %v, want %v", cfg.LinkTimeout, DefaultLinkTimeout)
	}
	if cfg.RdiffBinary != "rdiff-backup" {
		t.Errorf("RdiffBinary = %q, want rdiff-backup", cfg.RdiffBinary)
	}
}

func TestLoadRuntimeConfig_Overrides(t *testing.T) {
	t.Setenv("KELDRIS_DESKTOP_DEBUG", "yes")
	t.Setenv("KELDRIS_DESKTOP_LINK_TIMEOUT", "30")
	t.Setenv("KELDRIS_DESKTOP_SSH", "/usr/bin/ssh")

	cfg := LoadRuntimeConfig()
	if !cfg.Debug {
		t.Error("expected debug to be on")
	}
	if cfg.LinkTimeout != 30*time.Second {
		t.Errorf("LinkTimeout = %v, want 30s", cfg.LinkTimeout)
	}
	if cfg.SSHBinary != "/usr/bin/ssh" {
		t.Errorf("SSHBinary = %q", cfg.SSHBinary)
	}
}

func TestLoadRuntimeConfig_InvalidTimeout(t *testing.T) {
	tests := []string{"-5", "0", "soon"}
	for _, v := range tests {
		t.Run(v, func(t *testing.T) {
			t.Setenv("KELDRIS_DESKTOP_LINK_TIMEOUT", v)
			if got := LoadRuntimeConfig().LinkTimeout; got != DefaultLinkTimeout {
				t.Errorf("LinkTimeout = %v, want default", got)
			}
		})
	}
}
