package console

import (
	"errors"
	"testing"
)

func TestApprove(t *testing.T) {
	tests := []struct {
		name     string
		endpoint Scheme
		origin   Scheme
		blocked  bool
	}{
		{"https endpoint from https origin", SchemeHTTPS, SchemeHTTPS, false},
		{"http endpoint from http origin", SchemeHTTP, SchemeHTTP, false},
		{"http endpoint from https origin", SchemeHTTP, SchemeHTTPS, true},
		{"https endpoint from http origin", SchemeHTTPS, SchemeHTTP, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Approve(Endpoint{Host: "node1:8090", Scheme: tt.endpoint}, tt.origin)
			if tt.blocked {
				if !errors.Is(err, ErrTransportBlocked) {
					t.Errorf("Approve = %v, want ErrTransportBlocked", err)
				}
			} else if err != nil {
				t.Errorf("Approve = %v, want nil", err)
			}
		})
	}
}

func TestSchemeSocketScheme(t *testing.T) {
	if got := SchemeHTTP.SocketScheme(); got != "ws" {
		t.Errorf("http socket scheme = %q, want ws", got)
	}
	if got := SchemeHTTPS.SocketScheme(); got != "wss" {
		t.Errorf("https socket scheme = %q, want wss", got)
	}
}
