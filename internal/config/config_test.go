package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"farmcore/internal/qrpayload"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != StoreSQLite || cfg.Store.Path != "farmcore.db" {
		t.Fatalf("unexpected store defaults %+v", cfg.Store)
	}
	if cfg.Sequence.Allocator != AllocatorStore || cfg.Payload.Size != qrpayload.DefaultSize || cfg.Payload.Recovery != "low" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Retry.Base != 10*time.Millisecond || cfg.Log.Level != "info" {
		t.Fatalf("unexpected retry/log defaults %+v %+v", cfg.Retry, cfg.Log)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "farmcore.yaml")
	doc := strings.Join([]string{
		"store:",
		"  driver: memory",
		"payload:",
		"  farm: Test Ranch",
		"  recovery: high",
		"retry:",
		"  base: 25ms",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FARMCORE_PAYLOAD__FARM", "Env Ranch")
	t.Setenv("FARMCORE_BLOB__DRIVER", "memory")
	t.Setenv("FARMCORE_SEQUENCE__REDIS__KEY_PREFIX", "herd:")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != StoreMemory || cfg.Payload.Recovery != "high" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Payload.Farm != "Env Ranch" || cfg.Blob.Driver != "memory" || cfg.Sequence.Redis.KeyPrefix != "herd:" {
		t.Fatalf("environment must win: %+v", cfg)
	}
	if cfg.Retry.Base != 25*time.Millisecond {
		t.Fatalf("expected 25ms retry base, got %v", cfg.Retry.Base)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"FARMCORE_STORE__DRIVER":       "mongo",
		"FARMCORE_SEQUENCE__ALLOCATOR": "etcd",
		"FARMCORE_METRICS__BACKEND":    "statsd",
		"FARMCORE_PAYLOAD__RECOVERY":   "maximum",
		"FARMCORE_LOG__LEVEL":          "trace",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = StoreMemory
	cfg.Sequence.Allocator = AllocatorSQL
	if err := Validate(cfg); err == nil {
		t.Fatalf("sql allocator over memory store must be rejected")
	}

	cfg = Default()
	cfg.Sequence.Allocator = AllocatorRedis
	cfg.Sequence.Redis.Addr = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("redis allocator without address must be rejected")
	}

	cfg = Default()
	cfg.Store.Driver = StorePostgres
	if err := Validate(cfg); err == nil {
		t.Fatalf("postgres without dsn must be rejected")
	}
}
