package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "entrypoint.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesManifest(t *testing.T) {
	path := writeConfig(t, `
version: "1"
server:
  command: ["/launch"]
  readiness:
    http:
      url: http://127.0.0.1:8088/healthz
    interval: 250ms
    timeout: 1s
    failureThreshold: 40
proxy:
  command: ["caddy", "run", "--config", "/etc/caddy/Caddyfile", "--adapter", "caddyfile"]
stopGrace: 5s
ports:
  - 80/tcp
  - 443/tcp
admin:
  addr: 127.0.0.1:9464
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Server.Command[0]; got != "/launch" {
		t.Errorf("server command = %q, want /launch", got)
	}
	if cfg.Server.Readiness == nil || cfg.Server.Readiness.HTTP == nil {
		t.Fatal("expected server readiness http probe")
	}
	if got := cfg.Server.Readiness.Interval.Duration; got != 250*time.Millisecond {
		t.Errorf("readiness interval = %v, want 250ms", got)
	}
	if got := cfg.StopGrace.Duration; got != 5*time.Second {
		t.Errorf("stopGrace = %v, want 5s", got)
	}
	if len(cfg.Ports) != 2 {
		t.Errorf("ports = %v, want two entries", cfg.Ports)
	}
	if cfg.Admin == nil || cfg.Admin.Addr != "127.0.0.1:9464" {
		t.Errorf("admin addr = %+v, want 127.0.0.1:9464", cfg.Admin)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  command: ["/launch"]
  restartPolicy: always
proxy:
  command: ["caddy", "run"]
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("LAUNCH_DATA_DIR", "/var/lib/launch")
	path := writeConfig(t, `
server:
  command: ["/launch"]
  env:
    DATA_DIR: ${LAUNCH_DATA_DIR}
proxy:
  command: ["caddy", "run"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Server.Env["DATA_DIR"]; got != "/var/lib/launch" {
		t.Errorf("DATA_DIR = %q, want /var/lib/launch", got)
	}
}

func TestLoadMergesEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "server.env")
	if err := os.WriteFile(envPath, []byte("# comment\nexport TOKEN=abc\nQUOTED=\"a b\"\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	path := filepath.Join(dir, "entrypoint.yaml")
	manifest := `
server:
  command: ["/launch"]
  envFromFile: server.env
  env:
    TOKEN: override
proxy:
  command: ["caddy", "run"]
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Server.Env["TOKEN"]; got != "override" {
		t.Errorf("TOKEN = %q, want inline override", got)
	}
	if got := cfg.Server.Env["QUOTED"]; got != "a b" {
		t.Errorf("QUOTED = %q, want unquoted value", got)
	}
}

func TestLoadResolvesRelativeWorkdir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entrypoint.yaml")
	manifest := `
server:
  command: ["/launch"]
  workdir: data
proxy:
  command: ["caddy", "run"]
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := filepath.Join(dir, "data")
	if cfg.Server.Workdir != want {
		t.Errorf("workdir = %q, want %q", cfg.Server.Workdir, want)
	}
}

func TestLoadOrDefaultErrorsOnMissingExplicitPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := LoadOrDefault(missing); err == nil {
		t.Fatal("expected error for missing explicit config path")
	} else if !strings.Contains(err.Error(), "open config file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.Command[0] != DefaultServerBinary {
		t.Errorf("default server binary = %q, want %q", cfg.Server.Command[0], DefaultServerBinary)
	}
	if cfg.Proxy.Command[0] != "caddy" {
		t.Errorf("default proxy command = %v, want caddy", cfg.Proxy.Command)
	}
}
