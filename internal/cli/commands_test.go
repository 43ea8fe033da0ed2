package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"momentum-core/pkg/crypto"
	"momentum-core/pkg/db"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != "momentum-core test" {
		t.Fatalf("out=%q, expected momentum-core test", out)
	}
}

func TestHashPasswordFromStdin(t *testing.T) {
	out, err := execute(t, "hunter2\n", "hash-password")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Fatalf("hash does not match password: %v", err)
	}

	if _, err := execute(t, "", "hash-password"); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestSealAndRotateSecret(t *testing.T) {
	k1, _ := crypto.GenerateKey()
	k2, _ := crypto.GenerateKey()
	t.Setenv(crypto.KeyEnv, k1)

	out, err := execute(t, "", "seal-secret", "api-key")
	if err != nil {
		t.Fatalf("seal-secret: %v", err)
	}
	sealed := strings.TrimSpace(out)
	if crypto.ParseVersion(sealed) != 1 {
		t.Fatalf("version=%d, expected 1", crypto.ParseVersion(sealed))
	}

	t.Setenv(crypto.KeyEnv+"_V2", k2)
	out, err = execute(t, "", "rotate-secret", sealed)
	if err != nil {
		t.Fatalf("rotate-secret: %v", err)
	}
	rotated := strings.TrimSpace(out)
	if crypto.ParseVersion(rotated) != 2 {
		t.Fatalf("version=%d, expected 2", crypto.ParseVersion(rotated))
	}
	ring, err := crypto.LoadKeyring(os.Getenv)
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	if plain, _ := ring.Open(rotated); plain != "api-key" {
		t.Fatalf("plain=%q, expected api-key", plain)
	}
}

func TestTradesPrintsTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "momentum.db")
	t.Setenv("DB_PATH", path)
	t.Setenv("STRATEGY_CONFIG", filepath.Join(dir, "missing.yaml"))

	database, err := db.New(path)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	now := time.Now().UTC()
	err = database.SaveTrade(context.Background(), db.Trade{
		ID: "t1", Symbol: "SOLUSDT", Side: "LONG", Entry: 100, Exit: 104, Qty: 2, PnL: 8,
		Reason: "tp2", Mode: "paper", OpenedAt: now.Add(-time.Hour), ClosedAt: now,
	})
	if err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}
	_ = database.Close()

	out, err := execute(t, "", "trades", "--limit", "5")
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if !strings.Contains(out, "SOLUSDT") || !strings.Contains(out, "tp2") {
		t.Fatalf("out=%q, expected the saved trade", out)
	}
}
