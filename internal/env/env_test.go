package env

import (
	"path/filepath"
	"testing"
	"time"
)

func withLookupEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	prev := lookupEnvFunc
	lookupEnvFunc = func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
	t.Cleanup(func() { lookupEnvFunc = prev })
}

func TestDetect_ConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	withLookupEnv(t, map[string]string{ConfigDirEnv: dir, "LANG": "fr_FR.ISO-8859-1"})

	e, err := Detect()
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if e.ConfigDir != dir {
		t.Errorf("ConfigDir = %q, want %q", e.ConfigDir, dir)
	}
	if e.Charset != "ISO-8859-1" && e.GOOS != "windows" {
		t.Errorf("Charset = %q, want ISO-8859-1", e.Charset)
	}
	if got := e.StatusPath(); got != filepath.Join(dir, "status.properties") {
		t.Errorf("StatusPath() = %q", got)
	}
}

func TestDetectCharset(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{name: "utf8 lang", vars: map[string]string{"LANG": "en_US.UTF-8"}, want: "UTF-8"},
		{name: "lc_all wins", vars: map[string]string{"LC_ALL": "de_DE.ISO-8859-15@euro", "LANG": "en_US.UTF-8"}, want: "ISO-8859-15"},
		{name: "posix", vars: map[string]string{"LANG": "C"}, want: "US-ASCII"},
		{name: "nothing set", vars: map[string]string{}, want: "UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withLookupEnv(t, tt.vars)
			if got := detectCharset("linux"); got != tt.want {
				t.Errorf("detectCharset() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecutableName(t *testing.T) {
	tests := []struct {
		exe  string
		want string
	}{
		{exe: "", want: DefaultExecutableName},
		{exe: "/usr/local/bin/keldris-desktop", want: "keldris-desktop"},
		{exe: "/opt/agent/keldris-desktop.exe", want: "keldris-desktop"},
	}
	for _, tt := range tests {
		e := &Environment{Executable: tt.exe}
		if got := e.ExecutableName(); got != tt.want {
			t.Errorf("ExecutableName(%q) = %q, want %q", tt.exe, got, tt.want)
		}
	}
}

func TestStubClock(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	c := NewStubClock(start)
	c.Sleep(5 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(5 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(5*time.Second))
	}
}
