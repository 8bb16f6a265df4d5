package logfeed

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func recvOne(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for a line")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a line")
		return ""
	}
}

func TestMemoryFeedDeliversInOrder(t *testing.T) {
	f := NewMemoryFeed()
	defer f.Close()

	ctx := context.Background()
	ch, err := f.Subscribe(ctx, ServiceLogTopic("web-1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := f.Publish(ctx, ServiceLogTopic("web-1"), fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if got, want := recvOne(t, ch), fmt.Sprintf("line %d", i); got != want {
			t.Errorf("line %d = %q, want %q", i, got, want)
		}
	}
}

func TestMemoryFeedTopicsAreIsolated(t *testing.T) {
	f := NewMemoryFeed()
	defer f.Close()

	ctx := context.Background()
	web, _ := f.Subscribe(ctx, ServiceLogTopic("web-1"))
	db, _ := f.Subscribe(ctx, ServiceLogTopic("db-1"))

	f.Publish(ctx, ServiceLogTopic("web-1"), "for web")

	if got := recvOne(t, web); got != "for web" {
		t.Errorf("web line = %q", got)
	}
	select {
	case line := <-db:
		t.Errorf("db subscriber received %q from another topic", line)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryFeedFanOut(t *testing.T) {
	f := NewMemoryFeed()
	defer f.Close()

	ctx := context.Background()
	a, _ := f.Subscribe(ctx, NodeLogTopic("node-1"))
	b, _ := f.Subscribe(ctx, NodeLogTopic("node-1"))

	f.Publish(ctx, NodeLogTopic("node-1"), "hello")
	if got := recvOne(t, a); got != "hello" {
		t.Errorf("subscriber a = %q", got)
	}
	if got := recvOne(t, b); got != "hello" {
		t.Errorf("subscriber b = %q", got)
	}
}

func TestMemoryFeedUnsubscribeOnCancel(t *testing.T) {
	f := NewMemoryFeed()
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := f.Subscribe(ctx, ServiceLogTopic("web-1"))
	cancel()

	// The channel closes once the cancellation is observed.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestMemoryFeedCloseClosesSubscribers(t *testing.T) {
	f := NewMemoryFeed()
	ch, _ := f.Subscribe(context.Background(), ServiceLogTopic("web-1"))

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received a line after Close")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after Close")
	}
}

func TestTopicNames(t *testing.T) {
	if got := ServiceLogTopic("web-1"); got != "service.web-1.log" {
		t.Errorf("ServiceLogTopic = %q", got)
	}
	if got := NodeLogTopic("n1"); got != "node.n1.log" {
		t.Errorf("NodeLogTopic = %q", got)
	}
	if got := ServiceCommandTopic("web-1"); got != "service.web-1.command" {
		t.Errorf("ServiceCommandTopic = %q", got)
	}
}
