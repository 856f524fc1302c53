package config

import (
	"errors"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestLoadPriority(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		opts Options
		want Config
	}{
		{
			name: "defaults",
			want: Config{
				ServerURL:   DefaultServerURL,
				APIURL:      DefaultAPIURL,
				STUNServers: []string{DefaultSTUN},
				LogLevel:    DefaultLogLevel,
			},
		},
		{
			name: "env over defaults",
			env: map[string]string{
				EnvServerURL: "wss://relay.example/ws",
				EnvAPIURL:    "https://relay.example/",
				EnvSTUN:      "stun:a:3478, stun:b:3478",
				EnvLogLevel:  "debug",
			},
			want: Config{
				ServerURL:   "wss://relay.example/ws",
				APIURL:      "https://relay.example",
				STUNServers: []string{"stun:a:3478", "stun:b:3478"},
				LogLevel:    "debug",
			},
		},
		{
			name: "flags over env",
			env: map[string]string{
				EnvServerURL: "wss://relay.example/ws",
				EnvLogLevel:  "debug",
			},
			opts: Options{
				ServerURL:  "ws://127.0.0.1:9000/ws",
				STUNServer: "stun:c:3478",
				LogLevel:   "trace",
			},
			want: Config{
				ServerURL:   "ws://127.0.0.1:9000/ws",
				APIURL:      DefaultAPIURL,
				STUNServers: []string{"stun:c:3478"},
				LogLevel:    "trace",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{EnvServerURL, EnvAPIURL, EnvSTUN, EnvLogLevel} {
				t.Setenv(k, tt.env[k])
			}
			cfg, err := Load(tt.opts)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(*cfg, tt.want) {
				t.Fatalf("got %s\nwant %s", spew.Sdump(*cfg), spew.Sdump(tt.want))
			}
		})
	}
}

func TestLoadRejectsBadURLs(t *testing.T) {
	t.Setenv(EnvServerURL, "")
	t.Setenv(EnvAPIURL, "")

	if _, err := Load(Options{ServerURL: "http://relay.example/ws"}); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL for http signaling url, got %v", err)
	}
	if _, err := Load(Options{APIURL: "ws://relay.example"}); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL for ws api url, got %v", err)
	}
	if _, err := Load(Options{APIURL: "http://"}); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL for url without host, got %v", err)
	}
}
