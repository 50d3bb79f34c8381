package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE_PATH", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppPort != "8080" || cfg.SyncStream != "hq_master_sync" {
		t.Fatalf("unexpected defaults: port=%q stream=%q", cfg.AppPort, cfg.SyncStream)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryDelay != time.Second {
		t.Fatalf("retry defaults = %d/%v, want 3/1s", cfg.RetryAttempts, cfg.RetryDelay)
	}
	if cfg.AdminMintPolicy != AdminMintSkip {
		t.Fatalf("admin mint policy = %q", cfg.AdminMintPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENV_FILE_PATH", "")
	t.Setenv("ADMIN_ADDRESSES", " 0x00000000000000000000000000000000000000aa , 0x00000000000000000000000000000000000000bb")
	t.Setenv("ADMIN_PRIVATE_KEY", "0xabc")
	t.Setenv("ADMIN_MINT_POLICY", "TRACK")
	t.Setenv("RECONCILE_INTERVAL", "15s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.AdminAddresses) != 2 {
		t.Fatalf("admin addresses = %v", cfg.AdminAddresses)
	}
	if cfg.PrivateKey != "abc" {
		t.Fatalf("private key prefix not stripped: %q", cfg.PrivateKey)
	}
	if cfg.AdminMintPolicy != AdminMintTrack {
		t.Fatalf("policy = %q", cfg.AdminMintPolicy)
	}
	if cfg.ReconcileInterval != 15*time.Second {
		t.Fatalf("interval = %v", cfg.ReconcileInterval)
	}
	if !cfg.HasSigner() {
		t.Fatalf("HasSigner should be true")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("SYNC_STREAM=from_file\nMYSQL_DB=filedb\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SyncStream != "from_file" || cfg.MySQLDB != "filedb" {
		t.Fatalf("env file not applied: %+v", cfg)
	}
}

func TestValidate_Errors(t *testing.T) {
	base := func() *Config {
		t.Setenv("ENV_FILE_PATH", "")
		c, err := Load()
		if err != nil {
			t.Fatal(err)
		}
		return c
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing mysql", func(c *Config) { c.MySQLHost = "" }, "missing MySQL"},
		{"bad port", func(c *Config) { c.MySQLPort = "not-a-port" }, "invalid MYSQL_PORT"},
		{"bad contract", func(c *Config) { c.ContractAddress = "0x123" }, "CONTRACT_ADDRESS"},
		{"bad admin", func(c *Config) { c.AdminAddresses = []string{"nope"} }, "admin address"},
		{"bad policy", func(c *Config) { c.AdminMintPolicy = "maybe" }, "ADMIN_MINT_POLICY"},
		{"bad data policy", func(c *Config) { c.OnDataError = "ignore" }, "ON_DATA_ERROR"},
		{"bad source", func(c *Config) { c.EventSource = "graph" }, "EVENT_SOURCE"},
		{"bad mnemonic", func(c *Config) { c.Mnemonic = "one two three" }, "MNEMONIC"},
		{"no retries", func(c *Config) { c.RetryAttempts = 0 }, "RETRY_ATTEMPTS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestMySQLDSN(t *testing.T) {
	c := &Config{MySQLHost: "db", MySQLPort: "3306", MySQLDB: "spv", MySQLUser: "u", MySQLPass: "p"}
	want := "u:p@tcp(db:3306)/spv?"
	if got := c.MySQLDSN(); !strings.HasPrefix(got, want) || !strings.Contains(got, "parseTime=true") {
		t.Fatalf("DSN = %q", got)
	}
}
