// Package relay implements the panel-side provider of the console's
// external interfaces: ticket issuance, session address lookup, cached
// log tails, command submission, and the websocket push stream. Live
// lines come from the platform log feed; recent history is kept in
// SQLite so consoles can seed before streaming.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberpanel/emberpanel/internal/console"
	"github.com/emberpanel/emberpanel/internal/logfeed"
)

// Config wires a relay Server.
type Config struct {
	Feed    logfeed.Feed
	History *HistoryStore
	Tickets *TicketStore

	// Advertise is the endpoint address handed to consoles via the
	// session address lookup, e.g. "http://10.0.0.5:8090". Its scheme is
	// the declared scheme the console's transport guard checks.
	Advertise string

	// SessionToken, when non-empty, is the bearer token required on the
	// REST endpoints. The websocket authenticates by ticket instead.
	SessionToken string

	Log logr.Logger
}

// Server is the relay HTTP + WebSocket server.
type Server struct {
	feed      logfeed.Feed
	history   *HistoryStore
	tickets   *TicketStore
	advertise string
	token     string
	log       logr.Logger
	upgrader  websocket.Upgrader
	registry  *prometheus.Registry
	metrics   *metrics
}

// NewServer creates a relay server.
func NewServer(cfg Config) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		feed:      cfg.Feed,
		history:   cfg.History,
		tickets:   cfg.Tickets,
		advertise: cfg.Advertise,
		token:     cfg.SessionToken,
		log:       cfg.Log.WithName("relay"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry: reg,
		metrics:  newMetrics(reg),
	}
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Session endpoints
	mux.HandleFunc("POST /api/auth/ticket", s.requireSession(s.issueTicket))
	mux.HandleFunc("GET /api/auth/getCookies", s.requireSession(s.getCookies))

	// Service endpoints
	mux.HandleFunc("GET /service/{id}/logLines", s.requireSession(s.logLines))
	mux.HandleFunc("POST /service/{id}/execute", s.requireSession(s.execute))

	// WebSocket streaming (ticket-authenticated)
	mux.HandleFunc("/ws/console", s.handleConsole)

	// Health & metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return mux
}

// Start starts the HTTP server on addr and blocks.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("Starting relay server", "addr", addr)
	return server.ListenAndServe()
}

// RunRecorder consumes the log topics of the given services and records
// each line into the history store, so cached tails exist before any
// console attaches. Blocks until ctx is cancelled.
func (s *Server) RunRecorder(ctx context.Context, serviceIDs []string) error {
	for _, id := range serviceIDs {
		lines, err := s.feed.Subscribe(ctx, logfeed.ServiceLogTopic(id))
		if err != nil {
			return fmt.Errorf("subscribing recorder for %s: %w", id, err)
		}
		go func(id string, lines <-chan string) {
			for line := range lines {
				if err := s.history.Record(ctx, id, line); err != nil {
					s.log.Error(err, "failed to record history line", "service", id)
				}
			}
		}(id, lines)
	}
	<-ctx.Done()
	return nil
}

func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			http.Error(w, "invalid session", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// --- Session handlers ---

func (s *Server) issueTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	scope := console.TicketScope(req.Type)
	if scope != console.ScopeService && scope != console.ScopeNode {
		http.Error(w, "type must be \"service\" or \"node\"", http.StatusBadRequest)
		return
	}

	value := s.tickets.Issue(scope)
	s.metrics.ticketsIssued.Inc()
	writeJSON(w, map[string]string{"value": value})
}

func (s *Server) getCookies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"add": url.QueryEscape(s.advertise)})
}

// --- Service handlers ---

func (s *Server) logLines(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	lines, err := s.history.Tail(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, map[string][]string{"lines": lines})
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		http.Error(w, "command is required", http.StatusBadRequest)
		return
	}

	if err := s.feed.Publish(r.Context(), logfeed.ServiceCommandTopic(id), req.Command); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.commandsRouted.Inc()

	w.WriteHeader(http.StatusNoContent)
}

// --- WebSocket streaming ---

// handleConsole authenticates the upgrade by single-use ticket, then
// forwards the target's feed to the socket, one raw text frame per line.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	kind := console.TicketScope(r.URL.Query().Get("kind"))
	ticket := r.URL.Query().Get("ticket")

	if target == "" || ticket == "" {
		http.Error(w, "target and ticket are required", http.StatusBadRequest)
		return
	}
	if err := s.tickets.Redeem(ticket, kind); err != nil {
		s.metrics.ticketsRefused.Inc()
		s.log.Info("refused console upgrade", "target", target, "reason", err.Error())
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "failed to upgrade websocket")
		return
	}
	defer conn.Close()

	topic := logfeed.ServiceLogTopic(target)
	if kind == console.ScopeNode {
		topic = logfeed.NodeLogTopic(target)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	lines, err := s.feed.Subscribe(ctx, topic)
	if err != nil {
		s.log.Error(err, "failed to subscribe to feed", "topic", topic)
		return
	}

	s.metrics.consoleClients.Inc()
	defer s.metrics.consoleClients.Dec()

	// Read loop (detect close / keep-alive from the console)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	// Write loop (forward feed lines to the console)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
			s.metrics.linesForwarded.Inc()
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
