package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/emberpanel/emberpanel/internal/console"
	"github.com/emberpanel/emberpanel/internal/logfeed"
	"github.com/emberpanel/emberpanel/internal/panelapi"
)

// newTestRelay stands a full relay up on an httptest listener. The
// advertised endpoint is patched to the listener's address so the session
// lookup points consoles back at the same server.
func newTestRelay(t *testing.T, sessionToken string) (*Server, *logfeed.MemoryFeed, *httptest.Server) {
	t.Helper()

	feed := logfeed.NewMemoryFeed()
	t.Cleanup(func() { feed.Close() })

	history, err := OpenHistory(":memory:", 0)
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	s := NewServer(Config{
		Feed:         feed,
		History:      history,
		Tickets:      NewTicketStore(0),
		SessionToken: sessionToken,
		Log:          logr.Discard(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	s.advertise = ts.URL

	return s, feed, ts
}

func postJSON(t *testing.T, client *http.Client, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestIssueTicketEndpoint(t *testing.T) {
	_, _, ts := newTestRelay(t, "")

	resp := postJSON(t, ts.Client(), ts.URL+"/api/auth/ticket", "", `{"type":"service"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Value == "" {
		t.Error("ticket value is empty")
	}
}

func TestIssueTicketRejectsBadType(t *testing.T) {
	_, _, ts := newTestRelay(t, "")

	for _, body := range []string{`{"type":"cluster"}`, `{"type":""}`, `not json`} {
		resp := postJSON(t, ts.Client(), ts.URL+"/api/auth/ticket", "", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestGetCookiesReturnsAdvertisedEndpoint(t *testing.T) {
	s, _, ts := newTestRelay(t, "")

	resp, err := ts.Client().Get(ts.URL + "/api/auth/getCookies")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Add string `json:"add"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	addr, err := url.QueryUnescape(body.Add)
	if err != nil {
		t.Fatalf("unescaping %q: %v", body.Add, err)
	}
	if addr != s.advertise {
		t.Errorf("add = %q, want %q", addr, s.advertise)
	}
}

func TestRequireSession(t *testing.T) {
	_, _, ts := newTestRelay(t, "secret")

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "guess", http.StatusUnauthorized},
		{"correct token", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.Client(), ts.URL+"/api/auth/ticket", tt.token, `{"type":"service"}`)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestLogLinesServesHistory(t *testing.T) {
	s, _, ts := newTestRelay(t, "")
	ctx := context.Background()
	s.history.Record(ctx, "web-1", "old 1")
	s.history.Record(ctx, "web-1", "old 2")

	resp, err := ts.Client().Get(ts.URL + "/service/web-1/logLines")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Lines []string `json:"lines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Lines) != 2 || body.Lines[0] != "old 1" || body.Lines[1] != "old 2" {
		t.Errorf("lines = %v, want [old 1, old 2]", body.Lines)
	}
}

func TestExecutePublishesCommand(t *testing.T) {
	_, feed, ts := newTestRelay(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmds, err := feed.Subscribe(ctx, logfeed.ServiceCommandTopic("web-1"))
	if err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, ts.Client(), ts.URL+"/service/web-1/execute", "", `{"command":"systemctl restart web"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	select {
	case got := <-cmds:
		if got != "systemctl restart web" {
			t.Errorf("routed command = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the feed")
	}
}

func TestExecuteRejectsEmptyCommand(t *testing.T) {
	_, _, ts := newTestRelay(t, "")

	resp := postJSON(t, ts.Client(), ts.URL+"/service/web-1/execute", "", `{"command":"   "}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/console?" + query
}

func TestConsoleUpgradeRefusals(t *testing.T) {
	s, _, ts := newTestRelay(t, "")
	good := s.tickets.Issue(console.ScopeService)
	nodeTicket := s.tickets.Issue(console.ScopeNode)

	tests := []struct {
		name  string
		query string
	}{
		{"missing ticket", "target=web-1&kind=service"},
		{"missing target", "ticket=" + good + "&kind=service"},
		{"unknown ticket", "target=web-1&kind=service&ticket=bogus"},
		{"scope mismatch", "target=web-1&kind=service&ticket=" + nodeTicket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, tt.query), nil)
			if err == nil {
				t.Fatal("upgrade succeeded, want refusal")
			}
			if resp != nil {
				resp.Body.Close()
			}
		})
	}

	// The good ticket was never redeemed and still works exactly once.
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "target=web-1&kind=service&ticket="+good), nil)
	if err != nil {
		t.Fatalf("upgrade with valid ticket: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	conn.Close()

	// Replaying the consumed ticket is refused.
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "target=web-1&kind=service&ticket="+good), nil); err == nil {
		t.Fatal("replayed ticket accepted")
	} else if resp != nil {
		resp.Body.Close()
	}
}

func TestConsoleStreamForwardsFeedLines(t *testing.T) {
	s, feed, ts := newTestRelay(t, "")
	ticket := s.tickets.Issue(console.ScopeService)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "target=web-1&kind=service&ticket="+ticket), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the server's subscribe a moment to land before publishing.
	time.Sleep(50 * time.Millisecond)
	ctx := context.Background()
	feed.Publish(ctx, logfeed.ServiceLogTopic("web-1"), "live 1")
	feed.Publish(ctx, logfeed.ServiceLogTopic("web-1"), "live 2")

	for _, want := range []string{"live 1", "live 2"} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		if kind != websocket.TextMessage {
			t.Errorf("frame type = %d, want text", kind)
		}
		if string(data) != want {
			t.Errorf("frame = %q, want %q", data, want)
		}
	}
}

// TestConsoleEndToEnd drives the real console stack against the relay:
// session lookup, ticket exchange, history seed, live stream, command
// round trip.
func TestConsoleEndToEnd(t *testing.T) {
	s, feed, ts := newTestRelay(t, "secret")
	ctx := context.Background()
	s.history.Record(ctx, "web-1", "old 1")
	s.history.Record(ctx, "web-1", "old 2")

	client, err := panelapi.New(ts.URL, "secret", logr.Discard())
	if err != nil {
		t.Fatalf("panelapi.New: %v", err)
	}

	buf := console.NewBuffer(0)
	mgr := console.NewManager(console.ManagerConfig{
		Tickets:   client,
		Endpoints: client,
		Buffer:    buf,
		Origin:    client.Origin(),
		Scope:     console.ScopeService,
		Target:    "web-1",
		Log:       logr.Discard(),
	})
	ctrl := console.NewController(buf, mgr, client, client, console.ScopeService, "web-1", logr.Discard())
	defer ctrl.Dispose()

	if err := ctrl.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := mgr.State(); got != console.StateStreaming {
		t.Fatalf("state = %s, want Streaming", got)
	}

	time.Sleep(50 * time.Millisecond)
	feed.Publish(ctx, logfeed.ServiceLogTopic("web-1"), "live 1")

	deadline := time.Now().Add(3 * time.Second)
	for buf.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	var got []string
	for _, e := range buf.View(console.FilterAll()) {
		got = append(got, e.Text)
	}
	want := []string{"old 1", "old 2", "live 1"}
	if len(got) != len(want) {
		t.Fatalf("buffer = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}

	// Command round trip via the side channel.
	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmds, err := feed.Subscribe(cmdCtx, logfeed.ServiceCommandTopic("web-1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Send(ctx, "restart"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case line := <-cmds:
		if line != "restart" {
			t.Errorf("routed command = %q, want restart", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the feed")
	}
}
