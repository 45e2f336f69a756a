// ABOUTME: Tailscale tsnet listener setup for serving on a tailnet
// ABOUTME: Supports ephemeral nodes and public Funnel HTTPS exposure

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/soulgate/soulgate/internal/config"
)

// tailnetServer wraps the tsnet node so the gateway can close it
type tailnetServer struct {
	server *tsnet.Server
}

func (t *tailnetServer) Close() error {
	return t.server.Close()
}

// resolveStateDir returns the tailscale state directory, defaulting
// under the user's data dir
func resolveStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "soulgate", "tailscale"), nil
}

// resolveAuthKey returns the auth key from config or environment
func resolveAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailnetListener brings up a tsnet node and returns its listener
func setupTailnetListener(ctx context.Context, tsCfg config.TailscaleConfig, logger *slog.Logger) (*tailnetServer, net.Listener, error) {
	stateDir, err := resolveStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	srv := &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	logger.Info("starting tailscale node",
		"hostname", tsCfg.Hostname,
		"state_dir", stateDir,
		"ephemeral", tsCfg.Ephemeral)

	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)

	var ln net.Listener
	if tsCfg.Funnel {
		logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = srv.ListenFunnel("tcp", ":443")
	} else {
		ln, err = srv.Listen("tcp", ":80")
	}
	if err != nil {
		_ = srv.Close()
		return nil, nil, fmt.Errorf("listening on tailscale port: %w", err)
	}

	return &tailnetServer{server: srv}, ln, nil
}
