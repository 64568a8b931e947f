package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 8080
readers:
  tcp_addr: ":6000"
  ping_timeout: "3s"
  long_poll_park: "25s"
storage:
  backend: "sqlite"
  data_path: "/var/lib/mirrordb"
sync:
  queue_capacity: 4096
  flush_poll: "50ms"
  max_attempts: 3
gc:
  expire_interval: 2
security:
  api_keys:
    backend: ["bk1", "bk2"]
    admin: ["adm"]
backup:
  enabled: true
  cron: "0 3 * * *"
  max_files: 5
logging:
  level: "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.Readers.PingTimeout.Duration() != 3*time.Second {
		t.Fatalf("ping_timeout = %v", cfg.Readers.PingTimeout.Duration())
	}
	if cfg.Sync.FlushPoll.Duration() != 50*time.Millisecond {
		t.Fatalf("flush_poll = %v", cfg.Sync.FlushPoll.Duration())
	}
	// bare numbers are seconds
	if cfg.GC.ExpireInterval.Duration() != 2*time.Second {
		t.Fatalf("expire_interval = %v", cfg.GC.ExpireInterval.Duration())
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Fatalf("backend = %q", cfg.Storage.Backend)
	}
	keys := cfg.BackendKeys()
	if _, ok := keys["bk2"]; !ok || len(keys) != 2 {
		t.Fatalf("backend keys = %v", keys)
	}
	if !cfg.Backup.Enabled || cfg.Backup.Cron != "0 3 * * *" {
		t.Fatalf("backup config lost: %+v", cfg.Backup)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	if cfg.Storage.Backend != BackendFiles {
		t.Fatalf("default backend = %q", cfg.Storage.Backend)
	}
	if cfg.Storage.DataPath != "./.mirrordb" {
		t.Fatalf("default data path = %q", cfg.Storage.DataPath)
	}
	if cfg.Readers.TCPAddr != ":5125" {
		t.Fatalf("default tcp addr = %q", cfg.Readers.TCPAddr)
	}
	if cfg.Addr() != "0.0.0.0:5123" {
		t.Fatalf("default http addr = %q", cfg.Addr())
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.Backend = "frobnicator"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown backend accepted")
	}

	cfg.Storage.Backend = BackendAzure
	if err := cfg.Validate(); err == nil {
		t.Fatalf("azure backend accepted without credentials")
	}
	cfg.Storage.Azure.AccountName = "acct"
	cfg.Storage.Azure.AccountKey = "key"
	cfg.Storage.Azure.Container = "tables"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cfg.Storage.Backend = BackendPebble
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MIRRORDB_ADDR", "10.0.0.1:9000")
	t.Setenv("MIRRORDB_BACKEND", " Files ")
	t.Setenv("MIRRORDB_API_BACKEND_KEYS", "a, b ,,c")
	t.Setenv("MIRRORDB_RATE_RPS", "12.5")
	t.Setenv("MIRRORDB_BACKUP_CRON", "30 1 * * *")

	cfg := &Config{}
	if !LoadEnvOverrides(cfg) {
		t.Fatalf("env overrides not detected")
	}
	if cfg.Server.Address != "10.0.0.1" || cfg.Server.Port != 9000 {
		t.Fatalf("addr override lost: %+v", cfg.Server)
	}
	if cfg.Storage.Backend != BackendFiles {
		t.Fatalf("backend not normalized: %q", cfg.Storage.Backend)
	}
	if got := cfg.Security.APIKeys.Backend; len(got) != 3 || got[1] != "b" {
		t.Fatalf("key list = %v", got)
	}
	if cfg.Security.RateLimit.RPS != 12.5 {
		t.Fatalf("rps = %v", cfg.Security.RateLimit.RPS)
	}
	if !cfg.Backup.Enabled || cfg.Backup.Cron != "30 1 * * *" {
		t.Fatalf("backup cron override lost: %+v", cfg.Backup)
	}
}

func TestLoadEffective_Precedence(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 8080
storage:
  data_path: "/from/file"
`)
	t.Setenv("MIRRORDB_DATA_PATH", "/from/env")

	// flags win over env, env wins over file
	flags := Flags{
		Addr:   "0.0.0.0:7000",
		Data:   "/from/flag",
		Config: path,
		Set:    map[string]bool{"config": true, "addr": true, "data": true},
	}
	cfg, err := LoadEffective(flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:7000" {
		t.Fatalf("addr = %q, flag must win", cfg.Addr())
	}
	if cfg.Storage.DataPath != "/from/flag" {
		t.Fatalf("data path = %q, flag must win", cfg.Storage.DataPath)
	}

	flags.Set = map[string]bool{"config": true}
	cfg, err = LoadEffective(flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.DataPath != "/from/env" {
		t.Fatalf("data path = %q, env must win over file", cfg.Storage.DataPath)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Fatalf("addr = %q, file value must survive", cfg.Addr())
	}
}

func TestLoadEffective_MissingFileUsesDefaults(t *testing.T) {
	flags := Flags{
		Config: filepath.Join(t.TempDir(), "nope.yaml"),
		Set:    map[string]bool{"config": true},
	}
	cfg, err := LoadEffective(flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != BackendFiles || cfg.Readers.TCPAddr != ":5125" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}
