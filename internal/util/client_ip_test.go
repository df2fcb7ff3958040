package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}
	cases := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{"untrusted peer ignores headers", "198.51.100.10:1234", "203.0.113.5", "203.0.113.6", nil, "198.51.100.10"},
		{"trusted peer uses forwarded for", "10.0.0.20:1234", "203.0.113.5", "", trusted, "203.0.113.5"},
		{"skips trusted hops from the right", "10.0.0.20:1234", "203.0.113.5, 10.0.0.10", "", trusted, "203.0.113.5"},
		{"real ip when chain unusable", "10.0.0.20:1234", "garbage", "203.0.113.7", trusted, "203.0.113.7"},
		{"all trusted returns leftmost", "10.0.0.20:1234", "10.0.0.5, 10.0.0.10", "", trusted, "10.0.0.5"},
		{"single trusted address", "192.168.1.10:80", "203.0.113.9", "", trusted, "203.0.113.9"},
		{"ipv6 peer", "[2001:db8::1]:443", "", "", trusted, "2001:db8::1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://example.com", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if p, err := NewTrustedProxies([]string{" ", ""}); err != nil || p != nil {
		t.Fatalf("blank entries = %v, %v; want nil, nil", p, err)
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatalf("expected parse error for invalid prefix length")
	}
}
