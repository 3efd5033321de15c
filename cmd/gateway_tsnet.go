//go:build tsnet

package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/pairgate/internal/config"
)

// initTailscale serves the facade on the tailnet as well as the public listener.
// Only compiled with -tags tsnet.
func initTailscale(ctx context.Context, cfg *config.Config, mux http.Handler) func() {
	tc := cfg.Tailscale
	if tc.Hostname == "" {
		slog.Debug("Tailscale available but not configured (set PAIRGATE_TSNET_HOSTNAME to enable)")
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  tc.Hostname,
		AuthKey:   tc.AuthKey,
		Ephemeral: tc.Ephemeral,
	}
	if tc.StateDir != "" {
		srv.Dir = tc.StateDir
	}

	var (
		ln  net.Listener
		err error
	)

	if tc.EnableTLS {
		ln, err = srv.ListenTLS("tcp", ":443")
	} else {
		ln, err = srv.Listen("tcp", ":80")
	}
	if err != nil {
		slog.Warn("Tailscale listener failed to start", "error", err)
		srv.Close()
		return nil
	}

	slog.Info("Tailscale listener started",
		"hostname", tc.Hostname,
		"addr", ln.Addr().String(),
		"tls", tc.EnableTLS,
	)

	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("Tailscale HTTP server error", "error", err)
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				httpSrv.Close()
			}
			srv.Close()
			slog.Info("Tailscale listener stopped")
		})
	}
	context.AfterFunc(ctx, stop)
	return stop
}
