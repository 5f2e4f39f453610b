package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bitvend/bitvend/internal/config"
	obslogger "github.com/bitvend/bitvend/internal/observability/logger"
	"github.com/glebarez/sqlite"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module provides the shared SQLite store used by both processes.
var Module = fx.Provide(Open)

// Open opens the embedded store. Both the bot and webhook processes point at
// the same file; cross-process consistency relies on SQLite's transactional
// guarantees, so the connection is opened with WAL and a busy timeout instead
// of any application-level locking.
func Open(cfg config.Config) (*gorm.DB, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", cfg.DBPath)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: obslogger.NewGormLogger(obslogger.DefaultGormLoggerConfig()),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn
	// inside one process while WAL keeps readers unblocked.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return conn, nil
}
