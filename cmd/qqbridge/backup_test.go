package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"qqbridge/internal/domain"
	"qqbridge/internal/host"
)

func TestBackupRestore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := host.NewSQLite(host.Config{DSN: filepath.Join(dir, "site.db"), Logger: testAppLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	id, err := store.CreateUser(ctx, domain.Account{Login: "alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"groups":"1"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(dir, "backup.tar.gz")
	if err := writeBackup(ctx, store, cfgPath, archive); err != nil {
		t.Fatal(err)
	}

	target := t.TempDir()
	restored, err := restoreBackup(archive, filepath.Join(target, "restored.db"), filepath.Join(target, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 2 {
		t.Fatalf("expected db and config restored, got %v", restored)
	}

	data, err := os.ReadFile(filepath.Join(target, "config.json"))
	if err != nil || string(data) != `{"groups":"1"}` {
		t.Fatalf("config not restored: %q %v", data, err)
	}

	copied, err := host.NewSQLite(host.Config{DSN: filepath.Join(target, "restored.db"), Logger: testAppLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer copied.Close()
	if acct, err := copied.AccountByID(ctx, id); err != nil || acct.Login != "alice" {
		t.Fatalf("restored db missing account: %+v %v", acct, err)
	}
}

func TestHumanSize(t *testing.T) {
	tests := map[int64]string{512: "512 B", 2048: "2.0 KB", 3 << 20: "3.0 MB"}
	for in, want := range tests {
		if got := humanSize(in); got != want {
			t.Errorf("humanSize(%d) = %q, want %q", in, got, want)
		}
	}
}
