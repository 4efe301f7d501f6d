package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Logger is the single entry point for recording audit events. It owns the
// sequence counter: the increment and the durable append happen as one
// atomic unit, so concurrent Record calls can neither duplicate nor skip a
// sequence number.
type Logger struct {
	sink   Sink
	masker *Masker
	log    *slog.Logger

	mu  sync.Mutex
	seq uint64
}

func NewLogger(sink Sink, masker *Masker, log *slog.Logger) (*Logger, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &Logger{sink: sink, masker: masker, log: log}
	last, err := sink.LastSeq(context.Background())
	if err != nil {
		return nil, err
	}
	l.seq = last
	return l, nil
}

// Record masks e, assigns the next sequence number, and persists it. The
// sequence number is returned only after the sink has acknowledged
// durability; on failure the number is not consumed and the error wraps
// ErrStorageUnavailable.
func (l *Logger) Record(ctx context.Context, e Event) (uint64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.SchemaVersion = SchemaVersion
	l.masker.maskEvent(&e)

	l.mu.Lock()
	defer l.mu.Unlock()

	e.Seq = l.seq + 1
	if err := l.sink.Append(ctx, e); err != nil {
		l.log.Error("audit_append_failed", "action", e.Action, "error", err.Error())
		return 0, err
	}
	l.seq = e.Seq
	return e.Seq, nil
}

// Query returns events matching f in sequence order.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Event, error) {
	var out []Event
	err := l.sink.Scan(ctx, func(e Event) bool {
		if !f.matches(e) {
			return true
		}
		out = append(out, e)
		return f.Limit <= 0 || len(out) < f.Limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Masker exposes the logger's rule set so other components can register
// additional literal rules (vault secret names).
func (l *Logger) Masker() *Masker { return l.masker }

func (l *Logger) Close() error { return l.sink.Close() }
