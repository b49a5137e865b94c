package mcp

import (
	"testing"
	"time"

	"github.com/lakshit-hivel/pr-copilot/internal/config"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{
			name: "valid stdio",
			cfg:  ServerConfig{Name: "insight", Transport: TransportStdio, Command: "pr-copilot-mcp"},
		},
		{
			name: "valid http",
			cfg:  ServerConfig{Name: "remote", Transport: TransportHTTP, URL: "http://localhost:8080/rpc"},
		},
		{
			name:    "missing name",
			cfg:     ServerConfig{Transport: TransportStdio, Command: "srv"},
			wantErr: true,
		},
		{
			name:    "stdio without command",
			cfg:     ServerConfig{Name: "bad", Transport: TransportStdio},
			wantErr: true,
		},
		{
			name:    "path traversal in command",
			cfg:     ServerConfig{Name: "bad", Transport: TransportStdio, Command: "../../bin/sh"},
			wantErr: true,
		},
		{
			name:    "shell metachars in args",
			cfg:     ServerConfig{Name: "bad", Transport: TransportStdio, Command: "srv", Args: []string{"; rm -rf /"}},
			wantErr: true,
		},
		{
			name:    "http without scheme",
			cfg:     ServerConfig{Name: "bad", Transport: TransportHTTP, URL: "localhost:8080"},
			wantErr: true,
		},
		{
			name:    "unknown transport",
			cfg:     ServerConfig{Name: "bad", Transport: "grpc"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	stdio := FromConfig(config.MCPServerConfig{
		Name:    "insight",
		Command: "pr-copilot-mcp",
		Args:    []string{"--config", "cfg.yaml"},
		Timeout: 5 * time.Second,
	})
	if stdio.Transport != TransportStdio {
		t.Errorf("Transport = %q, want stdio", stdio.Transport)
	}
	if err := stdio.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	http := FromConfig(config.MCPServerConfig{Name: "remote", URL: "https://tools.internal/rpc"})
	if http.Transport != TransportHTTP {
		t.Errorf("Transport = %q, want http", http.Transport)
	}
}
