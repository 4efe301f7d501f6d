package guard

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteArchiveStore keeps terminal approval requests in a local SQLite
// database so the UI layer can show decision history across restarts.
type SQLiteArchiveStore struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteArchiveStore(dsn string) (*SQLiteArchiveStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	s := &SQLiteArchiveStore{dsn: dsn}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteArchiveStore) Save(ctx context.Context, req Request) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO approval_archive (
  id, session_id, kind, summary, target, tier,
  created_at_unix, expires_at_unix, resolved_at_unix,
  state, actor, comment, auto_approved
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, req.ID, req.SessionID, string(req.Kind), req.Summary, req.Target, string(req.Tier),
		req.CreatedAt.Unix(), req.ExpiresAt.Unix(), nullTimeUnix(req.ResolvedAt),
		string(req.State), req.Actor, req.Comment, boolToInt(req.AutoApproved),
	)
	return err
}

func (s *SQLiteArchiveStore) Get(ctx context.Context, id string) (Request, bool, error) {
	if err := s.ensureOpen(); err != nil {
		return Request{}, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Request{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return Request{}, false, nil
	}
	if err != nil {
		return Request{}, false, err
	}
	return req, true, nil
}

func (s *SQLiteArchiveStore) List(ctx context.Context, sessionID string, limit int) ([]Request, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(sessionID) == "" {
		rows, err = s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at_unix DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectColumns+` WHERE session_id = ? ORDER BY created_at_unix DESC LIMIT ?`, sessionID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *SQLiteArchiveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

const selectColumns = `
SELECT
  id, session_id, kind, summary, target, tier,
  created_at_unix, expires_at_unix, resolved_at_unix,
  state, actor, comment, auto_approved
FROM approval_archive`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var (
		req            Request
		kind           string
		tier           string
		state          string
		createdAtUnix  int64
		expiresAtUnix  int64
		resolvedAtUnix sql.NullInt64
		autoApproved   int
	)
	err := row.Scan(
		&req.ID, &req.SessionID, &kind, &req.Summary, &req.Target, &tier,
		&createdAtUnix, &expiresAtUnix, &resolvedAtUnix,
		&state, &req.Actor, &req.Comment, &autoApproved,
	)
	if err != nil {
		return Request{}, err
	}
	req.Kind = ActionKind(kind)
	req.Tier = RiskTier(tier)
	req.State = State(state)
	req.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	req.ExpiresAt = time.Unix(expiresAtUnix, 0).UTC()
	if resolvedAtUnix.Valid {
		t := time.Unix(resolvedAtUnix.Int64, 0).UTC()
		req.ResolvedAt = &t
	}
	req.AutoApproved = autoApproved != 0
	return req, nil
}

func (s *SQLiteArchiveStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	s.db = db
	if err := s.applyPragmas(); err != nil {
		return err
	}
	return s.migrate()
}

// applyPragmas tunes the connection for concurrent readers while the
// engine writes. WAL lets `approvals list` run against a live session.
func (s *SQLiteArchiveStore) applyPragmas() error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := s.db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteArchiveStore) ensureOpen() error {
	if s.db != nil {
		return nil
	}
	return s.open()
}

func (s *SQLiteArchiveStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite db is not open")
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS approval_archive (
  id TEXT PRIMARY KEY,
  session_id TEXT,
  kind TEXT,
  summary TEXT,
  target TEXT,
  tier TEXT,
  created_at_unix INTEGER NOT NULL,
  expires_at_unix INTEGER NOT NULL,
  resolved_at_unix INTEGER,
  state TEXT NOT NULL,
  actor TEXT,
  comment TEXT,
  auto_approved INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_approval_archive_session ON approval_archive(session_id, created_at_unix);
`)
	return err
}

func nullTimeUnix(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
