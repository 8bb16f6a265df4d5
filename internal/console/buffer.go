// Package console implements the live log console core for Emberpanel:
// the ordered log buffer, the transport-security guard, the push-stream
// connection state machine, and the command channel that together drive
// the operator's real-time view of a remote service or node. Rendering
// lives elsewhere; this package owns the policy.
package console

import (
	"bytes"
	"strings"
	"sync"
)

// DefaultBufferCap bounds buffer growth for long-lived streams. The
// operator can raise it or set 0 for unbounded.
const DefaultBufferCap = 4000

// Entry is a single stored log line. Immutable once created; Seq grows
// monotonically across the life of the buffer, including across Clear.
type Entry struct {
	Seq  int
	Text string
}

// Filter is a view transform over the buffer. The zero value matches
// every entry.
type Filter struct {
	level string
}

// FilterAll matches every entry.
func FilterAll() Filter { return Filter{} }

// FilterLevel matches entries whose text contains level,
// case-insensitively.
func FilterLevel(level string) Filter { return Filter{level: level} }

// Level returns the level this filter matches, or "" for the match-all
// filter.
func (f Filter) Level() string { return f.level }

func (f Filter) matches(e Entry) bool {
	if f.level == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Text), strings.ToLower(f.level))
}

// Buffer is an append-only ordered sequence of log entries with a derived
// filtered view. Entries are never reordered; the only removals are an
// explicit Clear and the oldest-first trim once the cap is exceeded.
// Stored text is raw — ANSI codes and all. Stripping is a display
// concern and must not touch storage, so exports keep full fidelity.
//
// Safe for concurrent use: the stream reader appends while the UI views,
// clears, and exports.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	nextSeq int
	cap     int
}

// NewBuffer creates a buffer trimming to at most capacity entries.
// capacity <= 0 means unbounded.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{cap: capacity}
}

// Seed replaces the buffer contents with the cached tail lines, in order.
// Called once before streaming starts so history precedes live output.
func (b *Buffer) Seed(lines []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
	for _, line := range lines {
		b.entries = append(b.entries, Entry{Seq: b.nextSeq, Text: line})
		b.nextSeq++
	}
	b.trimLocked()
}

// Append adds one line at the end, preserving arrival order.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, Entry{Seq: b.nextSeq, Text: line})
	b.nextSeq++
	b.trimLocked()
}

func (b *Buffer) trimLocked() {
	if b.cap > 0 && len(b.entries) > b.cap {
		b.entries = append(b.entries[:0:0], b.entries[len(b.entries)-b.cap:]...)
	}
}

// View returns the entries matching f, in storage order. Non-destructive;
// the result is a copy and re-evaluated on every call rather than cached.
func (b *Buffer) View(f Filter) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of stored entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear empties the buffer atomically. A concurrent append lands either
// wholly before or wholly after the clear, never in between. The live
// stream subscription is unaffected.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
}

// Export serializes the full, unfiltered buffer, newline-joined. The
// active view filter never affects export contents: an operator exporting
// logs wants the complete record.
func (b *Buffer) Export() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf bytes.Buffer
	for i, e := range b.entries {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(e.Text)
	}
	return buf.Bytes()
}
