// Package main is the entry point for the Emberpanel log relay: the
// panel-side server that issues console tickets, serves cached log
// tails, routes operator commands, and streams live lines to consoles
// over websockets.
package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-logr/stdr"

	"github.com/emberpanel/emberpanel/internal/logfeed"
	"github.com/emberpanel/emberpanel/internal/relay"
)

func main() {
	var addr string
	var advertise string
	var feedURL string
	var historyPath string
	var historyDepth int
	var sessionToken string
	var services string
	var verbosity int

	flag.StringVar(&addr, "addr", ":8090", "Relay listen address")
	flag.StringVar(&advertise, "advertise", "http://127.0.0.1:8090", "Endpoint address handed to consoles (scheme is the declared scheme)")
	flag.StringVar(&feedURL, "feed-url", "nats://127.0.0.1:4222", "Log feed NATS URL; \"memory\" for a single-node in-process feed")
	flag.StringVar(&historyPath, "history", "logrelay.db", "SQLite history database path")
	flag.IntVar(&historyDepth, "history-depth", relay.DefaultHistoryDepth, "Cached tail depth per target")
	flag.StringVar(&sessionToken, "session-token", os.Getenv("LOGRELAY_SESSION_TOKEN"), "Bearer token required on REST endpoints (empty disables auth)")
	flag.StringVar(&services, "record-services", "", "Comma-separated service IDs whose logs are recorded into history")
	flag.IntVar(&verbosity, "v", 0, "Log verbosity")
	flag.Parse()

	stdr.SetVerbosity(verbosity)
	log := stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags)).WithName("logrelay")

	var feed logfeed.Feed
	var err error
	if feedURL == "memory" {
		feed = logfeed.NewMemoryFeed()
	} else {
		feed, err = logfeed.NewNATSFeed(feedURL)
		if err != nil {
			log.Error(err, "failed to connect to log feed")
			os.Exit(1)
		}
	}
	defer feed.Close()

	history, err := relay.OpenHistory(historyPath, historyDepth)
	if err != nil {
		log.Error(err, "failed to open history store")
		os.Exit(1)
	}
	defer history.Close()

	server := relay.NewServer(relay.Config{
		Feed:         feed,
		History:      history,
		Tickets:      relay.NewTicketStore(0),
		Advertise:    advertise,
		SessionToken: sessionToken,
		Log:          log,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if services != "" {
		ids := strings.Split(services, ",")
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}
		go func() {
			if err := server.RunRecorder(ctx, ids); err != nil {
				log.Error(err, "history recorder failed")
			}
		}()
	}

	if err := server.Start(addr); err != nil {
		log.Error(err, "relay server failed")
		os.Exit(1)
	}
}
