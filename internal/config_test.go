package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/stave/internal/models"
	pkgconfig "github.com/starford/stave/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.SQLite.InMemory() {
		t.Error("default store should be on disk")
	}
}

func TestWorkspaceConfig_Vaults(t *testing.T) {
	cases := map[string]struct {
		vaults  []models.Vault
		wantErr bool
	}{
		"none":          {},
		"named":         {vaults: []models.Vault{{FSPath: "a"}, {FSPath: "b", Name: "other"}}},
		"empty fs path": {vaults: []models.Vault{{Name: "x"}}, wantErr: true},
		"same base":     {vaults: []models.Vault{{FSPath: "x/notes"}, {FSPath: "y/notes"}}},
		"same name":     {vaults: []models.Vault{{FSPath: "a", Name: "n"}, {FSPath: "b", Name: "n"}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := WorkspaceConfig{Root: ".", Vaults: tc.vaults}
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestWatchConfig_NegativeDebounce(t *testing.T) {
	cfg := WatchConfig{Enabled: true, Debounce: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative debounce should fail")
	}
}

func TestLoadConfigFiles(t *testing.T) {
	files := map[string]string{
		"stave.yaml": `app:
  log_level: debug
  http:
    port: 9090
workspace:
  root: /ws
  vaults:
    - fs_path: notes
    - fs_path: /abs/journal
      name: log
sqlite:
  path: ":memory:"
watch:
  enabled: false
  debounce: 1s
`,
		"stave.toml": `[app]
log_level = "debug"
[app.http]
port = 9090
[workspace]
root = "/ws"
[[workspace.vaults]]
fs_path = "notes"
[[workspace.vaults]]
fs_path = "/abs/journal"
name = "log"
[sqlite]
path = ":memory:"
[watch]
enabled = false
debounce = "1s"
`,
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), name)
			if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg := NewDefaultConfig()
			if err := pkgconfig.Load(p, cfg); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.App.HTTP.Port != 9090 || cfg.App.LogLevel.String() != "DEBUG" {
				t.Errorf("app = %+v", cfg.App)
			}
			if len(cfg.Workspace.Vaults) != 2 || cfg.Workspace.Vaults[1].Name != "log" {
				t.Errorf("vaults = %+v", cfg.Workspace.Vaults)
			}
			if !cfg.SQLite.InMemory() {
				t.Errorf("sqlite path = %q", cfg.SQLite.Path)
			}
			if cfg.Watch.Enabled || cfg.Watch.Debounce != time.Second {
				t.Errorf("watch = %+v", cfg.Watch)
			}
			if !cfg.Metrics.Enabled {
				t.Error("metrics default should survive loading")
			}
		})
	}
}
