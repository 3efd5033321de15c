package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/pairgate/internal/cache"
	"github.com/nextlevelbuilder/pairgate/internal/config"
	"github.com/nextlevelbuilder/pairgate/internal/whatsapp"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, cache backend and credential store",
		Run: func(cmd *cobra.Command, args []string) {
			if !runDoctor() {
				os.Exit(1)
			}
		},
	}
}

func runDoctor() bool {
	fmt.Println("pairgate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ok := true

	fmt.Println()
	fmt.Println("  Checks:")
	ok = check("listen", func() (string, error) { return checkListen(cfg.Addr()) }) && ok
	ok = check("cache", func() (string, error) { return checkCache(ctx, cfg) }) && ok
	ok = check("store", func() (string, error) { return checkStore(ctx, cfg) }) && ok
	if cfg.Gateway.StaticDir != "" {
		ok = check("static", func() (string, error) {
			if _, err := os.Stat(cfg.Gateway.StaticDir); err != nil {
				return "", err
			}
			return cfg.Gateway.StaticDir, nil
		}) && ok
	}

	fmt.Println()
	if ok {
		fmt.Println("Doctor check complete.")
	} else {
		fmt.Println("Doctor found problems.")
	}
	return ok
}

func check(name string, fn func() (string, error)) bool {
	detail, err := fn()
	if err != nil {
		fmt.Printf("    %-10s FAIL  %s\n", name+":", err)
		return false
	}
	fmt.Printf("    %-10s OK    %s\n", name+":", detail)
	return true
}

// checkListen fails when the port is taken, which is expected while a
// gateway is already running.
func checkListen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	ln.Close()
	return addr + " available", nil
}

func checkCache(ctx context.Context, cfg *config.Config) (string, error) {
	store, err := cache.New(ctx, cache.Options{
		Backend:       cfg.Cache.Backend,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		KeyPrefix:     cfg.Cache.KeyPrefix,
		EncryptionKey: cfg.Cache.EncryptionKey,
	})
	if err != nil {
		return "", err
	}
	defer store.Close()
	detail := cfg.Cache.Backend
	if cfg.Cache.Backend == "redis" {
		detail = fmt.Sprintf("redis %s, %d live codes", cfg.Cache.RedisAddr, store.Len(ctx))
	}
	return detail, nil
}

func checkStore(ctx context.Context, cfg *config.Config) (string, error) {
	log := whatsapp.NewLogger(slog.Default(), "ERROR")
	container, err := whatsapp.OpenContainer(ctx, whatsapp.StoreConfig{
		Driver:      cfg.WhatsApp.StoreDriver,
		Path:        cfg.WhatsApp.StorePath,
		PostgresDSN: cfg.WhatsApp.PostgresDSN,
	}, log)
	if err != nil {
		return "", err
	}
	defer container.Close()
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return "", err
	}
	linked := 0
	for _, d := range devices {
		if d.ID != nil {
			linked++
		}
	}
	return fmt.Sprintf("%s, %d linked account(s)", cfg.WhatsApp.StoreDriver, linked), nil
}
