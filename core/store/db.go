package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"pulsemon/config"
)

// NewDB opens the configured database. The sqlite path creates the parent
// directory on first start and turns on WAL so scheduler writes do not block
// API reads.
func NewDB(cfg *config.AppConfig, logger *zap.Logger) (*sql.DB, error) {
	driver := cfg.DB.Driver
	var dsn string
	switch driver {
	case "pgx", "postgres":
		driver = "pgx"
		dsn = cfg.DB.DSN
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires db.dsn")
		}
	default:
		driver = "sqlite"
		if dir := filepath.Dir(cfg.DB.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn = sqliteDSN(cfg.DB.Path)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if logger != nil {
		logger.Info("database ready", zap.String("driver", driver))
	}
	return db, nil
}

func sqliteDSN(path string) string {
	v := url.Values{}
	v.Add("_pragma", "busy_timeout(5000)")
	v.Add("_pragma", "journal_mode(WAL)")
	v.Add("_pragma", "foreign_keys(1)")
	// Times must land as sqlite datetime text, not unix nanos, so the
	// strftime bucketing in checks queries can read them.
	v.Add("_time_format", "sqlite")
	return "file:" + path + "?" + v.Encode()
}
