package logfeed

import (
	"context"
	"sync"
)

// MemoryFeed is an in-process Feed for single-node deployments and tests.
type MemoryFeed struct {
	mu     sync.Mutex
	subs   map[string][]chan string
	closed bool
}

// NewMemoryFeed creates an empty in-memory feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string][]chan string)}
}

// Publish delivers the line to every current subscriber of the topic.
// Slow subscribers drop lines rather than blocking the publisher.
func (f *MemoryFeed) Publish(_ context.Context, topic, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[topic] {
		select {
		case ch <- line:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for the topic. The channel closes when
// ctx is cancelled or the feed is closed.
func (f *MemoryFeed) Subscribe(ctx context.Context, topic string) (<-chan string, error) {
	ch := make(chan string, 64)

	f.mu.Lock()
	f.subs[topic] = append(f.subs[topic], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.closed {
			return
		}
		subs := f.subs[topic]
		for i, c := range subs {
			if c == ch {
				f.subs[topic] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

// Close shuts the feed down and closes all subscriber channels.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, subs := range f.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	f.subs = make(map[string][]chan string)
	return nil
}
