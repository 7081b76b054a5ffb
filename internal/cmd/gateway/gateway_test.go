package gateway

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8090" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if len(cfg.Peers) != 0 {
		t.Fatalf("expected no default peers, got %v", cfg.Peers)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("UNDERTOW_GATEWAY_HTTP_ADDR", "env-http")
	t.Setenv("UNDERTOW_GATEWAY_NODE_ID", "env-node")

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-http",
		"-peers", "peer-a:9001, peer-b:9001",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-http" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.NodeID != "env-node" {
		t.Fatalf("expected env node id, got %q", cfg.NodeID)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[0] != "peer-a:9001" || cfg.Peers[1] != "peer-b:9001" {
		t.Fatalf("expected parsed peers, got %v", cfg.Peers)
	}
}
