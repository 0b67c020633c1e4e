package main

import (
	"encoding/hex"
	"io/fs"
	"testing"
	"time"

	"github.com/irfank123/CareSync-sub002/internal/config"
)

func TestResolveTokenKey_Configured(t *testing.T) {
	key, generated, err := resolveTokenKey("ab12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generated {
		t.Error("expected configured key to be used as-is")
	}
	if key != "ab12" {
		t.Errorf("expected ab12, got %q", key)
	}
}

func TestResolveTokenKey_Generated(t *testing.T) {
	key, generated, err := resolveTokenKey("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !generated {
		t.Error("expected a generated key")
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		t.Fatalf("generated key is not hex: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("expected 32 byte key, got %d", len(raw))
	}

	other, _, _ := resolveTokenKey("")
	if other == key {
		t.Error("expected two generated keys to differ")
	}
}

func TestSyncRequestTimeout(t *testing.T) {
	tests := []struct {
		name    string
		remote  time.Duration
		request time.Duration
		want    time.Duration
	}{
		{"scaled from remote timeout", 10 * time.Second, 30 * time.Second, 40 * time.Second},
		{"never below request timeout", 2 * time.Second, 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{RemoteCallTimeout: tt.remote, RequestTimeout: tt.request}
			if got := syncRequestTimeout(cfg); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMigrationSource_Embedded(t *testing.T) {
	matches, err := fs.Glob(migrationSource(""), "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	found := false
	for _, m := range matches {
		if m == "001_scheduling.sql" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected embedded 001_scheduling.sql, got %v", matches)
	}
}

func TestCommands(t *testing.T) {
	sync := syncCmd()
	for _, name := range []string{"doctor", "from", "to", "export"} {
		if sync.Flags().Lookup(name) == nil {
			t.Errorf("sync: missing --%s flag", name)
		}
	}
	seed := seedCmd()
	for _, name := range []string{"doctors", "days", "start", "seed"} {
		if seed.Flags().Lookup(name) == nil {
			t.Errorf("seed: missing --%s flag", name)
		}
	}
	var subs []string
	for _, c := range migrateCmd().Commands() {
		subs = append(subs, c.Name())
	}
	if len(subs) != 2 {
		t.Errorf("expected migrate up and status, got %v", subs)
	}
}
