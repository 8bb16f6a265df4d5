// Package logfeed provides the live log-line bus connecting Emberpanel
// node daemons to the relay: raw text lines published per target, fanned
// out to every console watching that target. Backed by NATS JetStream in
// a cluster and by an in-memory feed for single-node development and
// tests.
package logfeed

import "context"

// Feed is the line bus. Lines on a topic are delivered to subscribers in
// publish order; a frame is one raw log line, ANSI codes and all.
type Feed interface {
	// Publish sends one line to the topic.
	Publish(ctx context.Context, topic, line string) error

	// Subscribe returns a channel receiving lines for the topic until ctx
	// is cancelled.
	Subscribe(ctx context.Context, topic string) (<-chan string, error)

	// Close shuts the feed down.
	Close() error
}

// Topics used by Emberpanel components.

// ServiceLogTopic is the live output stream of a service.
func ServiceLogTopic(serviceID string) string { return "service." + serviceID + ".log" }

// NodeLogTopic is the live output stream of a node daemon.
func NodeLogTopic(nodeID string) string { return "node." + nodeID + ".log" }

// ServiceCommandTopic carries operator commands toward a service's stdin.
func ServiceCommandTopic(serviceID string) string { return "service." + serviceID + ".command" }
