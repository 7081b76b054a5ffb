// Package gateway parses gateway command flags and composes the realtime
// service entrypoint.
package gateway

import (
	"context"
	"flag"
	"fmt"
	"strings"

	entrypoint "github.com/louisbranch/undertow/internal/platform/cmd"
	server "github.com/louisbranch/undertow/internal/services/gateway/app"
)

// Config holds gateway command configuration.
type Config struct {
	HTTPAddr   string   `env:"UNDERTOW_GATEWAY_HTTP_ADDR" envDefault:":8090"`
	GRPCAddr   string   `env:"UNDERTOW_GATEWAY_GRPC_ADDR"`
	NodeID     string   `env:"UNDERTOW_GATEWAY_NODE_ID"`
	Peers      []string `env:"UNDERTOW_GATEWAY_PEERS"`
	JWTSecret  string   `env:"UNDERTOW_GATEWAY_JWT_SECRET"`
	SQLitePath string   `env:"UNDERTOW_GATEWAY_SQLITE_PATH"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	peers := strings.Join(cfg.Peers, ",")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "gateway HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "peer bus gRPC listen address")
	fs.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "cluster-unique node id")
	fs.StringVar(&peers, "peers", peers, "comma-separated peer bus addresses")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HMAC secret for access tokens")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "telemetry SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	cfg.Peers = nil
	for _, peer := range strings.Split(peers, ",") {
		if peer = strings.TrimSpace(peer); peer != "" {
			cfg.Peers = append(cfg.Peers, peer)
		}
	}
	return cfg, nil
}

// Run builds the gateway app and serves realtime traffic until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGateway, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:   cfg.HTTPAddr,
			GRPCAddr:   cfg.GRPCAddr,
			NodeID:     cfg.NodeID,
			Peers:      cfg.Peers,
			JWTSecret:  cfg.JWTSecret,
			SQLitePath: cfg.SQLitePath,
		}); err != nil {
			return fmt.Errorf("serve gateway: %w", err)
		}
		return nil
	})
}
