package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Backend environments with built-in base addresses.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

var defaultBaseURLs = map[string]string{
	EnvDevelopment: "http://localhost:3001",
	EnvStaging:     "https://staging-api.momentumrace.xyz",
	EnvProduction:  "https://api.momentumrace.xyz",
}

// BackendConfig selects the racing backend. BaseURL, when set, wins over the
// environment default.
type BackendConfig struct {
	Environment  string `toml:"environment"`
	BaseURL      string `toml:"base_url"`
	RealtimePath string `toml:"realtime_path"`
}

// ResolveBaseURL returns the HTTP base address of the backend without a
// trailing slash.
func (b BackendConfig) ResolveBaseURL() (string, error) {
	raw := strings.TrimSpace(b.BaseURL)
	if raw == "" {
		env := strings.ToLower(strings.TrimSpace(b.Environment))
		var ok bool
		raw, ok = defaultBaseURLs[env]
		if !ok {
			return "", fmt.Errorf("unknown environment %q and no base_url set", b.Environment)
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse base_url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("base_url %q must use http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base_url %q has no host", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// ResolveRealtimeURL derives the realtime socket address from the base
// address: https becomes wss, http becomes ws, and RealtimePath is appended.
func (b BackendConfig) ResolveRealtimeURL() (string, error) {
	base, err := b.ResolveBaseURL()
	if err != nil {
		return "", err
	}
	return RealtimeURL(base, b.RealtimePath)
}

// RealtimeURL upgrades an http(s) base address to its ws(s) equivalent and
// appends path.
func RealtimeURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("cannot derive realtime url from scheme %q", u.Scheme)
	}
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		u.Path = strings.TrimRight(u.Path, "/") + path
	}
	return u.String(), nil
}
