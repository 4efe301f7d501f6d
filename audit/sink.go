package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Sink persists events. Append must not return until the event is durable;
// a Sink that cannot guarantee that must fail instead.
type Sink interface {
	Append(ctx context.Context, e Event) error
	Scan(ctx context.Context, fn func(Event) bool) error
	LastSeq(ctx context.Context) (uint64, error)
	Close() error
}

// JSONLSink is an append-only file of JSON records, one per line, with
// size-based rotation. Rotated files keep their records; nothing is ever
// rewritten or deleted by this type.
type JSONLSink struct {
	path           string
	rotateMaxBytes int64

	mu   sync.Mutex
	f    *os.File
	size int64
}

func NewJSONLSink(path string, rotateMaxBytes int64) (*JSONLSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("missing audit log path")
	}
	if rotateMaxBytes <= 0 {
		rotateMaxBytes = 100 * 1024 * 1024
	}
	s := &JSONLSink{path: path, rotateMaxBytes: rotateMaxBytes}
	if err := s.openLocked(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return s, nil
}

func (s *JSONLSink) Append(ctx context.Context, e Event) error {
	_ = ctx
	if s == nil {
		return ErrStorageUnavailable
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotateIfNeededLocked(int64(len(b)) + 1); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if s.f == nil {
		return ErrStorageUnavailable
	}
	n, err := s.f.Write(append(b, '\n'))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.size += int64(n)
	// Durability before acknowledgment: the caller gates actions on this
	// return, so the record must survive a crash.
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Scan replays every event in recorded order: rotated files first, oldest
// to newest, then the active file. Rotation moves records aside but never
// out of the history. fn returns false to stop early.
func (s *JSONLSink) Scan(ctx context.Context, fn func(Event) bool) error {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	stopped := false
	wrapped := func(e Event) bool {
		if !fn(e) {
			stopped = true
			return false
		}
		return true
	}

	// Rotated names embed a UTC timestamp, so lexical order is age order.
	rotated, _ := filepath.Glob(path + ".*")
	sort.Strings(rotated)
	for _, p := range rotated {
		if err := scanFile(ctx, p, wrapped); err != nil {
			return err
		}
		if stopped {
			return nil
		}
	}
	return scanFile(ctx, path, wrapped)
}

func scanFile(ctx context.Context, path string, fn func(Event) bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// A torn trailing line from a crash is tolerated on read;
			// writes are still all-or-nothing from the caller's view.
			continue
		}
		if !fn(e) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// LastSeq returns the highest sequence number across the active file and
// any rotated siblings, so the logger resumes a gapless sequence across
// restarts even when a rotation happened in the previous run.
func (s *JSONLSink) LastSeq(ctx context.Context) (uint64, error) {
	var last uint64
	err := s.Scan(ctx, func(e Event) bool {
		if e.Seq > last {
			last = e.Seq
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

func (s *JSONLSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		err := s.f.Close()
		s.f = nil
		s.size = 0
		return err
	}
	return nil
}

func (s *JSONLSink) openLocked() error {
	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if st, err := f.Stat(); err == nil {
		s.size = st.Size()
	}
	s.f = f
	return nil
}

func (s *JSONLSink) rotateIfNeededLocked(addBytes int64) error {
	if s.rotateMaxBytes <= 0 || s.size+addBytes <= s.rotateMaxBytes {
		return nil
	}
	if s.f != nil {
		_ = s.f.Close()
	}
	// Nanosecond precision keeps names unique under rapid rotation.
	ts := time.Now().UTC().Format("20060102T150405.000000000Z")
	rotated := fmt.Sprintf("%s.%s", s.path, ts)
	if err := os.Rename(s.path, rotated); err != nil {
		// If rename fails, keep appending to the current file.
		return s.openLocked()
	}
	s.f = nil
	s.size = 0
	return s.openLocked()
}
