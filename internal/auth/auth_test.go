package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/straja-ai/medner/internal/config"
)

func TestNewFromConfigAndLookup(t *testing.T) {
	cfg := &config.Config{Clients: []config.ClientConfig{
		{ID: "ward-a", APIKeys: []string{"key-a1", "key-a2"}},
		{ID: "ward-b", APIKeys: []string{"key-b", ""}},
	}}
	a, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if !a.Enabled() {
		t.Fatalf("expected auth to be enabled")
	}
	if c, ok := a.Lookup("key-a2"); !ok || c.ID != "ward-a" {
		t.Fatalf("Lookup(key-a2) = %v, %v", c, ok)
	}
	if _, ok := a.Lookup("nope"); ok {
		t.Fatalf("unexpected match for unknown key")
	}
	if _, ok := a.Lookup(""); ok {
		t.Fatalf("empty key must not match")
	}
}

func TestNewFromConfigRejectsDuplicates(t *testing.T) {
	cfg := &config.Config{Clients: []config.ClientConfig{
		{ID: "a", APIKeys: []string{"same"}},
		{ID: "b", APIKeys: []string{"same"}},
	}}
	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatalf("expected duplicate key error")
	}
	if _, err := NewFromConfig(&config.Config{Clients: []config.ClientConfig{{APIKeys: []string{"k"}}}}); err == nil {
		t.Fatalf("expected empty id error")
	}
}

func TestDisabledWithoutClients(t *testing.T) {
	a, err := NewFromConfig(&config.Config{})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if a.Enabled() {
		t.Fatalf("expected auth to be disabled")
	}
	var nilAuth *Auth
	if nilAuth.Enabled() {
		t.Fatalf("nil auth must be disabled")
	}
}

func TestKeyFromRequest(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for header, want := range cases {
		r := httptest.NewRequest("POST", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := KeyFromRequest(r); got != want {
			t.Fatalf("KeyFromRequest(%q) = %q, want %q", header, got, want)
		}
	}
}
