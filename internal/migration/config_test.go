package migration

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeServicesFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write services.yaml: %v", err)
	}
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeServicesFile(t, `
service:
  name: game-1
  host: 127.0.0.1
  port: 8080
peers:
  - { name: game-2, host: 10.0.0.2, port: 8080 }
migration_timeout_seconds: 20
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.Name != "game-1" {
		t.Fatalf("service = %+v", cfg.Service)
	}
	if cfg.MigrationTimeout() != 20*time.Second {
		t.Fatalf("timeout = %v", cfg.MigrationTimeout())
	}
	peer, ok := cfg.Peer("game-2")
	if !ok || peer.Host != "10.0.0.2" || peer.Port != 8080 {
		t.Fatalf("peer = %+v ok=%v", peer, ok)
	}
	if _, ok := cfg.Peer("nope"); ok {
		t.Fatalf("unknown peer resolved")
	}
}

func TestLoadConfig_DefaultTimeout(t *testing.T) {
	p := writeServicesFile(t, `
service:
  name: game-1
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MigrationTimeout() != DefaultTimeout {
		t.Fatalf("timeout = %v, want default", cfg.MigrationTimeout())
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"missing service name": `peers: []`,
		"incomplete peer": `
service: { name: game-1 }
peers:
  - { name: game-2 }
`,
		"duplicate name": `
service: { name: game-1 }
peers:
  - { name: game-1, host: 10.0.0.1, port: 8080 }
`,
	} {
		p := writeServicesFile(t, body)
		if _, err := LoadConfig(p); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
