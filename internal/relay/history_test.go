package relay

import (
	"context"
	"fmt"
	"testing"
)

func newTestHistory(t *testing.T, depth int) *HistoryStore {
	t.Helper()
	h, err := OpenHistory(":memory:", depth)
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistoryRecordAndTail(t *testing.T) {
	h := newTestHistory(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := h.Record(ctx, "web-1", fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := h.Tail(ctx, "web-1")
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	want := []string{"line 0", "line 1", "line 2"}
	if len(got) != len(want) {
		t.Fatalf("Tail = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHistoryTargetsAreIsolated(t *testing.T) {
	h := newTestHistory(t, 0)
	ctx := context.Background()

	h.Record(ctx, "web-1", "web line")
	h.Record(ctx, "db-1", "db line")

	got, err := h.Tail(ctx, "web-1")
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 1 || got[0] != "web line" {
		t.Errorf("Tail(web-1) = %v, want [web line]", got)
	}
}

func TestHistoryTrimsToDepth(t *testing.T) {
	h := newTestHistory(t, 3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := h.Record(ctx, "web-1", fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := h.Tail(ctx, "web-1")
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	want := []string{"line 7", "line 8", "line 9"}
	if len(got) != len(want) {
		t.Fatalf("Tail = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHistoryTailUnknownTarget(t *testing.T) {
	h := newTestHistory(t, 0)

	got, err := h.Tail(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Tail(unknown) = %v, want empty", got)
	}
}
