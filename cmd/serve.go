package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/pairgate/internal/bus"
	"github.com/nextlevelbuilder/pairgate/internal/cache"
	"github.com/nextlevelbuilder/pairgate/internal/config"
	"github.com/nextlevelbuilder/pairgate/internal/gateway"
	httpapi "github.com/nextlevelbuilder/pairgate/internal/http"
	"github.com/nextlevelbuilder/pairgate/internal/responder"
	"github.com/nextlevelbuilder/pairgate/internal/session"
	"github.com/nextlevelbuilder/pairgate/internal/throttle"
	"github.com/nextlevelbuilder/pairgate/internal/whatsapp"
	"github.com/nextlevelbuilder/pairgate/pkg/protocol"
)

// shutdownGrace bounds graceful shutdown; the process exits regardless
// once it elapses.
const shutdownGrace = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pairing gateway (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)
	started := time.Now()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initOTelExporter(ctx, cfg)

	codes, err := cache.New(ctx, cache.Options{
		Backend:       cfg.Cache.Backend,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		KeyPrefix:     cfg.Cache.KeyPrefix,
		EncryptionKey: cfg.Cache.EncryptionKey,
		SweepInterval: time.Duration(cfg.Cache.SweepSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open code cache: %w", err)
	}
	defer codes.Close()

	waLogger := whatsapp.NewLogger(slog.Default().With("component", "whatsmeow"), cfg.WhatsApp.LogLevel)
	container, err := whatsapp.OpenContainer(ctx, whatsapp.StoreConfig{
		Driver:      cfg.WhatsApp.StoreDriver,
		Path:        cfg.WhatsApp.StorePath,
		PostgresDSN: cfg.WhatsApp.PostgresDSN,
	}, waLogger.Sub("Database"))
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer container.Close()

	connector := whatsapp.NewConnector(container, waLogger, whatsapp.Options{
		DisplayName: cfg.Pairing.ClientDisplayName,
		SendRPS:     cfg.WhatsApp.SendRPS,
	})

	events := bus.New()
	guard := throttle.New(cfg.Pairing.Cooldown())
	replies := responder.New(responder.Config{
		BotName:  cfg.Bot.Name,
		Prefix:   cfg.Bot.Prefix,
		Language: cfg.Bot.Language,
	}, responder.ProcessMetrics{Started: started, Cache: codes})

	coord := session.NewCoordinator(session.Options{
		Connector:         connector,
		Cache:             codes,
		Throttle:          guard,
		CodeTTL:           cfg.Pairing.CodeTTL(),
		ConnectTimeout:    cfg.Pairing.ConnectTimeout(),
		ReleaseDelay:      cfg.Pairing.ReleaseDelay(),
		KeepAliveInterval: cfg.Pairing.KeepAlive(),
		OnMessage:         replies.HandleMessage,
		OnStatus: func(st session.Status) {
			events.Broadcast(bus.Event{Name: protocol.EventSessionState, Payload: statusEvent(st)})
		},
	})

	limiter := gateway.NewClientLimiter(cfg.Gateway.RateLimitRPM, 10)
	defer limiter.Stop()

	api := httpapi.New(httpapi.Options{
		Pairing:       coord,
		Cache:         codes,
		Throttle:      guard,
		Bus:           events,
		Limiter:       limiter,
		TrustProxy:    cfg.Gateway.TrustProxy,
		Environment:   cfg.Gateway.Environment,
		Development:   cfg.IsDevelopment(),
		Version:       Version,
		StaticDir:     cfg.Gateway.StaticDir,
		BotName:       cfg.Bot.Name,
		CommandPrefix: cfg.Bot.Prefix,
		Started:       started,
	})
	handler := api.Handler()

	if w, err := config.NewWatcher(cfgPath); err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
	} else {
		w.OnChange(func(next *config.Config) {
			guard.SetCooldown(time.Now(), next.Pairing.Cooldown())
			logLevel.Set(levelFor(next))
			events.Broadcast(bus.Event{Name: protocol.EventConfigReloaded})
			slog.Info("config reloaded", "cooldown", next.Pairing.Cooldown(), "log_level", logLevel.Level())
		})
		if err := w.Start(); err != nil {
			slog.Debug("config hot reload disabled", "path", cfgPath, "error", err)
		} else {
			defer w.Stop()
		}
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}
	if cfg.Gateway.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Gateway.MaxConns)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Pairing requests block until the code arrives.
		WriteTimeout: cfg.Pairing.ConnectTimeout() + 15*time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	stopTailscale := initTailscale(ctx, cfg, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("pairgate listening",
			"addr", ln.Addr().String(),
			"environment", cfg.Gateway.Environment,
			"cache", cfg.Cache.Backend,
			"store", cfg.WhatsApp.StoreDriver,
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "grace", shutdownGrace)
		events.Broadcast(bus.Event{Name: protocol.EventShutdown})

		// A second signal or a stuck close must not keep the process alive.
		force := time.AfterFunc(shutdownGrace, func() {
			slog.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		})
		defer force.Stop()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if stopTailscale != nil {
			stopTailscale()
		}
		api.Close(sctx)
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		coord.Shutdown(sctx)
		if shutdownTracing != nil {
			shutdownTracing(sctx)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("pairgate stopped")
	return err
}

// statusEvent is the public form of a status change. The event stream is
// unauthenticated, so the phone number and session details stay out.
func statusEvent(st session.Status) map[string]any {
	ev := map[string]any{
		"phase":      st.Phase,
		"connected":  st.Connected,
		"connecting": st.Connecting,
		"busy":       st.Busy,
	}
	if st.Identity != nil {
		ev["botName"] = st.Identity.Name
	}
	if st.Session != nil && st.Session.LastError != "" {
		ev["lastError"] = st.Session.LastError
	}
	return ev
}
