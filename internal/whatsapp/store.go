package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"
)

// StoreConfig selects where linked-device credentials persist.
type StoreConfig struct {
	Driver      string // "sqlite" (default) or "postgres"
	Path        string // sqlite file
	PostgresDSN string
}

// OpenContainer opens the credential database and applies whatsmeow's
// schema upgrades.
func OpenContainer(ctx context.Context, cfg StoreConfig, log waLog.Logger) (*sqlstore.Container, error) {
	db, dialect, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	container := sqlstore.NewWithDB(db, dialect, log)
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("upgrade credential store: %w", err)
	}
	return container, nil
}

func openDB(cfg StoreConfig) (*sql.DB, string, error) {
	switch cfg.Driver {
	case "postgres", "postgresql", "pg":
		if cfg.PostgresDSN == "" {
			return nil, "", fmt.Errorf("whatsapp.postgres_dsn is required for the postgres store")
		}
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("ping postgres: %w", err)
		}
		slog.Info("whatsapp: credential store opened", "driver", "postgres")
		return db, "postgres", nil

	case "", "sqlite", "sqlite3":
		path := cfg.Path
		if path == "" {
			path = "whatsapp.db"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, "", fmt.Errorf("create store dir: %w", err)
		}
		db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows one writer; whatsmeow serializes through this pool.
		db.SetMaxOpenConns(1)
		slog.Info("whatsapp: credential store opened", "driver", "sqlite", "path", path)
		return db, "sqlite3", nil
	}
	return nil, "", fmt.Errorf("unknown credential store driver %q", cfg.Driver)
}
