package vault

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fast iterations keep the KDF cheap in tests; correctness does not depend
// on the work factor.
func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(Config{
		Path:          filepath.Join(t.TempDir(), "secrets.vault"),
		KDFIterations: 16,
	})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func mustUnlock(t *testing.T, v *Vault, pin string) {
	t.Helper()
	if err := v.Unlock(pin); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")

	plaintexts := []string{"hunter2", "multi\nline\nvalue", "ünïcødé ✓", strings.Repeat("x", 8192)}
	for i, want := range plaintexts {
		name := string(rune('a' + i))
		if err := v.Put(name, want); err != nil {
			t.Fatalf("put %q: %v", name, err)
		}
		got, err := v.Get(name)
		if err != nil {
			t.Fatalf("get %q: %v", name, err)
		}
		if got != want {
			t.Fatalf("round trip mismatch for %q", name)
		}
	}
}

func TestCiphertextNeverContainsPlaintext(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")
	secret := "deadbeefcafe-plaintext-canary"
	if err := v.Put("api", secret); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(v.cfg.Path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), secret) {
		t.Fatal("plaintext visible in container file")
	}
	var cf containerFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(cf.Ciphertext), secret) {
		t.Fatal("plaintext visible in ciphertext blob")
	}
}

func TestGetFailsWhileLocked(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")
	if err := v.Put("k", "v"); err != nil {
		t.Fatal(err)
	}
	v.Lock()

	if _, err := v.Get("k"); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked, got %v", err)
	}
	// A prior unlock must not leak through a relock cycle.
	mustUnlock(t, v, "12345")
	v.Lock()
	if _, err := v.Get("k"); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked after relock, got %v", err)
	}
}

func TestAutoRelockDeadline(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")
	if err := v.Put("k", "v"); err != nil {
		t.Fatal(err)
	}

	// Move the clock past the relock deadline.
	v.now = func() time.Time { return time.Now().Add(16 * time.Minute) }
	if _, err := v.Get("k"); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked after auto-relock deadline, got %v", err)
	}
	if v.Unlocked() {
		t.Fatal("vault still reports unlocked past deadline")
	}
}

func TestWrongPIN(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")
	v.Lock()

	if err := v.Unlock("54321"); !errors.Is(err, ErrWrongPIN) {
		t.Fatalf("expected ErrWrongPIN, got %v", err)
	}
}

func TestLockoutCooldown(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")
	v.Lock()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		if err := v.Unlock("99999"); !errors.Is(err, ErrWrongPIN) {
			t.Fatalf("attempt %d: expected ErrWrongPIN, got %v", i+1, err)
		}
	}
	// Sixth attempt lands inside the cooldown window: rejected up front,
	// even with the correct PIN.
	if err := v.Unlock("12345"); !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}

	// After the window passes the correct PIN works and resets the count.
	v.now = func() time.Time { return base.Add(time.Hour) }
	mustUnlock(t, v, "12345")
	if st := v.Status(); st.FailedUnlocks != 0 {
		t.Fatalf("failed unlock count not reset: %+v", st)
	}
}

func TestHistoryAndRestore(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")

	for _, val := range []string{"v1", "v2", "v3"} {
		if err := v.Put("db_password", val); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := v.History("db_password")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 archived revisions, got %d", len(hist))
	}

	// Archive index 1 is the oldest ("v1").
	if err := v.Restore("db_password", 1); err != nil {
		t.Fatal(err)
	}
	got, err := v.Get("db_password")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v1" {
		t.Fatalf("expected restored v1, got %q", got)
	}
}

func TestSoftDeleteKeepsHistory(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")
	if err := v.Put("tok", "value1"); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete("tok", false); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Get("tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Tombstoned entries stay restorable.
	if err := v.Restore("tok", 0); err != nil {
		t.Fatal(err)
	}
	got, err := v.Get("tok")
	if err != nil || got != "value1" {
		t.Fatalf("restore after soft delete: got %q, %v", got, err)
	}
}

func TestEraseRemovesEverything(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")
	if err := v.Put("tok", "value1"); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete("tok", true); err != nil {
		t.Fatal(err)
	}
	if err := v.Restore("tok", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after erase, got %v", err)
	}
}

func TestRotateKey(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")
	if err := v.Put("k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := v.RotateKey("654321"); err != nil {
		t.Fatal(err)
	}

	// Entries survive the rotation in the same session.
	got, err := v.Get("k")
	if err != nil || got != "v" {
		t.Fatalf("get after rotate: %q, %v", got, err)
	}

	// The old PIN no longer opens the container.
	v.Lock()
	if err := v.Unlock("12345"); !errors.Is(err, ErrWrongPIN) {
		t.Fatalf("expected ErrWrongPIN with old pin, got %v", err)
	}
	mustUnlock(t, v, "654321")
}

func TestRotateKeyRejectsBadPIN(t *testing.T) {
	v := newTestVault(t)
	mustUnlock(t, v, "12345")
	for _, pin := range []string{"", "1234", "1234567", "abcde"} {
		if err := v.RotateKey(pin); !errors.Is(err, ErrInvalidPIN) {
			t.Fatalf("pin %q: expected ErrInvalidPIN, got %v", pin, err)
		}
	}
}
