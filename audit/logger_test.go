package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	sink, err := NewJSONLSink(filepath.Join(t.TempDir(), "audit.jsonl"), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sink.Close() })
	masker, err := NewMasker(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	l, err := NewLogger(sink, masker, nil)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestRecord_SequenceGaplessUnderConcurrency(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Record(ctx, Event{Actor: ActorAgent, Action: "shell_exec", Outcome: OutcomeSuccess, Detail: fmt.Sprintf("run %d", i)}); err != nil {
				t.Errorf("record: %v", err)
			}
		}(i)
	}
	wg.Wait()

	events, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != n {
		t.Fatalf("expected %d events, got %d", n, len(events))
	}
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			t.Fatalf("sequence not gapless at index %d: seq=%d", i, e.Seq)
		}
	}
}

func TestRecord_MasksBeforePersist(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	if _, err := l.Record(ctx, Event{
		Actor:   ActorAgent,
		Action:  "api_call",
		Target:  "https://api.example.com",
		Outcome: OutcomeSuccess,
		Detail:  "used Bearer abcdef1234567890 for auth",
	}); err != nil {
		t.Fatal(err)
	}

	events, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if got := events[0].Detail; got == "" || strings.Contains(got, "abcdef1234567890") {
		t.Fatalf("detail not masked: %q", got)
	}
}

func TestRecord_SeqResumesAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	sink, err := NewJSONLSink(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	masker, _ := NewMasker(nil, nil)
	l, err := NewLogger(sink, masker, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := l.Record(ctx, Event{Actor: ActorAgent, Action: "file_edit", Outcome: OutcomeSuccess}); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	sink2, err := NewJSONLSink(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer sink2.Close()
	l2, err := NewLogger(sink2, masker, nil)
	if err != nil {
		t.Fatal(err)
	}
	seq, err := l2.Record(ctx, Event{Actor: ActorAgent, Action: "file_edit", Outcome: OutcomeSuccess})
	if err != nil {
		t.Fatal(err)
	}
	if seq != 4 {
		t.Fatalf("expected seq to resume at 4, got %d", seq)
	}
}

func TestQuery_Filters(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fixtures := []Event{
		{Timestamp: base, Action: "git_push", Outcome: OutcomeDenied},
		{Timestamp: base.Add(time.Minute), Action: "git_push", Outcome: OutcomeSuccess},
		{Timestamp: base.Add(2 * time.Minute), Action: "shell_exec", Outcome: OutcomeSuccess},
	}
	for _, e := range fixtures {
		e.Actor = ActorAgent
		if _, err := l.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.Query(ctx, Filter{Action: "git_push", Outcome: OutcomeSuccess})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Seq != 2 {
		t.Fatalf("unexpected filter result: %+v", got)
	}

	got, err = l.Query(ctx, Filter{Since: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Action != "shell_exec" {
		t.Fatalf("unexpected time-range result: %+v", got)
	}
}

func TestRecord_FailsLoudWhenSinkDead(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	if _, err := l.Record(ctx, Event{Actor: ActorAgent, Action: "install", Outcome: OutcomeSuccess}); err != nil {
		t.Fatal(err)
	}
	l.Close()

	_, err := l.Record(ctx, Event{Actor: ActorAgent, Action: "install", Outcome: OutcomeSuccess})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
