package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Default configuration values (local relay)
const (
	DefaultServerURL = "ws://localhost:8888/ws"
	DefaultAPIURL    = "http://localhost:8080"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultLogLevel  = "info"
)

// Environment variables consulted when a flag is not set.
const (
	EnvServerURL = "AUDIOROOMS_SERVER"
	EnvAPIURL    = "AUDIOROOMS_API"
	EnvSTUN      = "AUDIOROOMS_STUN"
	EnvLogLevel  = "LOG_LEVEL"
)

var ErrInvalidURL = errors.New("invalid url")

// Config holds client configuration
type Config struct {
	// ServerURL is the relay signaling websocket endpoint
	ServerURL string

	// APIURL is the base url of the room API
	APIURL string

	// STUNServers are used as ICE servers for peer links
	STUNServers []string

	LogLevel string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ServerURL  string
	APIURL     string
	STUNServer string
	LogLevel   string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	serverURL := pick(opts.ServerURL, EnvServerURL, DefaultServerURL)
	if err := checkURL(serverURL, "ws", "wss"); err != nil {
		return nil, err
	}

	apiURL := strings.TrimRight(pick(opts.APIURL, EnvAPIURL, DefaultAPIURL), "/")
	if err := checkURL(apiURL, "http", "https"); err != nil {
		return nil, err
	}

	// STUN may be a comma separated list
	var stunServers []string
	for _, s := range strings.Split(pick(opts.STUNServer, EnvSTUN, DefaultSTUN), ",") {
		if s = strings.TrimSpace(s); s != "" {
			stunServers = append(stunServers, s)
		}
	}

	return &Config{
		ServerURL:   serverURL,
		APIURL:      apiURL,
		STUNServers: stunServers,
		LogLevel:    pick(opts.LogLevel, EnvLogLevel, DefaultLogLevel),
	}, nil
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidURL, raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%w %q: expected %s scheme with host", ErrInvalidURL, raw, strings.Join(schemes, " or "))
}
