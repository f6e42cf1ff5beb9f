// Package auth maps API keys to the clients allowed to call the extract API.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/straja-ai/medner/internal/config"
)

// Client is a caller identified by one of its API keys.
type Client struct {
	ID string
}

// Auth holds mappings from API keys to clients.
type Auth struct {
	keys []keyEntry
}

type keyEntry struct {
	key    []byte
	client Client
}

// NewFromConfig builds an Auth instance from the loaded config. With no
// clients configured, Enabled reports false and every request passes.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	seen := make(map[string]string)
	a := &Auth{}
	for _, c := range cfg.Clients {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("client with empty id in config")
		}
		for _, key := range c.APIKeys {
			if key == "" {
				continue
			}
			if owner, exists := seen[key]; exists {
				return nil, fmt.Errorf("api key for client %q is also assigned to %q", c.ID, owner)
			}
			seen[key] = c.ID
			a.keys = append(a.keys, keyEntry{key: []byte(key), client: Client{ID: c.ID}})
		}
	}
	return a, nil
}

// Enabled reports whether any API key is configured.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.keys) > 0
}

// Lookup returns the client for a given API key, if any.
func (a *Auth) Lookup(apiKey string) (Client, bool) {
	if a == nil || apiKey == "" {
		return Client{}, false
	}
	var (
		found Client
		ok    bool
	)
	// Compare against every key so timing does not reveal which one matched.
	for _, e := range a.keys {
		if subtle.ConstantTimeCompare(e.key, []byte(apiKey)) == 1 {
			found, ok = e.client, true
		}
	}
	return found, ok
}

// KeyFromRequest extracts the API key from "Authorization: Bearer <key>".
func KeyFromRequest(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
