package logfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName = "emberpanel-logs"
	// Console history beyond the retention window comes from the relay's
	// history store, not the stream.
	streamMaxAge = time.Hour
)

// NATSFeed implements Feed on NATS JetStream. Each log line is one
// message; per-subject ordering gives the in-order delivery the console
// requires.
type NATSFeed struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// NewNATSFeed connects to NATS and ensures the log stream exists.
func NewNATSFeed(url string) (*NATSFeed, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	// Retry stream creation — NATS may not be fully ready yet.
	var stream jetstream.Stream
	for attempt := 0; attempt < 10; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stream, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      streamName,
			Subjects:  []string{"emberpanel.>"},
			Retention: jetstream.LimitsPolicy,
			MaxAge:    streamMaxAge,
			Storage:   jetstream.FileStorage,
			Replicas:  1,
		})
		cancel()
		if err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream stream after retries: %w", err)
	}

	return &NATSFeed{conn: nc, js: js, stream: stream}, nil
}

// Publish sends one line to the topic's subject.
func (f *NATSFeed) Publish(ctx context.Context, topic, line string) error {
	subject := topicToSubject(topic)
	if _, err := f.js.Publish(ctx, subject, []byte(line)); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe returns a channel of lines for the topic, starting at new
// messages. Delivery stops when ctx is cancelled.
func (f *NATSFeed) Subscribe(ctx context.Context, topic string) (<-chan string, error) {
	subject := topicToSubject(topic)

	consumer, err := f.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer for %s: %w", subject, err)
	}

	ch := make(chan string, 64)

	go func() {
		defer close(ch)
		for {
			msgs, err := consumer.Fetch(64, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}

			for msg := range msgs.Messages() {
				select {
				case ch <- string(msg.Data()):
					msg.Ack()
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close shuts down the NATS connection.
func (f *NATSFeed) Close() error {
	f.conn.Close()
	return nil
}

// topicToSubject converts a dotted topic (e.g. "service.abc.log") to a
// NATS subject under the emberpanel namespace.
func topicToSubject(topic string) string {
	return "emberpanel." + topic
}
