package guard

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestArchive(t *testing.T) *SQLiteArchiveStore {
	t.Helper()
	s, err := NewSQLiteArchiveStore(filepath.Join(t.TempDir(), "approvals.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func terminalRequest(id, session string, state State, createdAt time.Time) Request {
	resolved := createdAt.Add(10 * time.Second)
	return Request{
		ID:         id,
		SessionID:  session,
		Kind:       ActionGitPush,
		Summary:    "push to origin/main",
		Target:     "origin/main",
		Tier:       RiskHigh,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(5 * time.Minute),
		ResolvedAt: &resolved,
		State:      state,
		Actor:      "alice",
		Comment:    "reviewed",
	}
}

func TestArchiveSaveGet(t *testing.T) {
	s := newTestArchive(t)
	ctx := context.Background()

	want := terminalRequest("apr_1", "sess-a", StateApproved, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get(ctx, "apr_1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("request not found")
	}
	if got.State != StateApproved || got.Kind != ActionGitPush || got.Tier != RiskHigh {
		t.Fatalf("mismatch: %+v", got)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(*want.ResolvedAt) {
		t.Fatalf("resolved_at mismatch: %v", got.ResolvedAt)
	}
}

func TestArchiveGetMissing(t *testing.T) {
	s := newTestArchive(t)
	_, ok, err := s.Get(context.Background(), "apr_nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected not found")
	}
}

func TestArchiveListBySession(t *testing.T) {
	s := newTestArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	for i, sess := range []string{"sess-a", "sess-a", "sess-b"} {
		req := terminalRequest("apr_"+string(rune('1'+i)), sess, StateDenied, base.Add(time.Duration(i)*time.Minute))
		if err := s.Save(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, "sess-a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	// Newest first.
	if !got[0].CreatedAt.After(got[1].CreatedAt) {
		t.Fatalf("not sorted newest first: %v, %v", got[0].CreatedAt, got[1].CreatedAt)
	}

	all, err := s.List(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}
}
