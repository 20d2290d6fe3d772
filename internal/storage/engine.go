package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bookstore/internal/models"
	"bookstore/internal/schema"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MemoryPath opens a private in-memory sqlite database.
const MemoryPath = ":memory:"

// Config holds storage engine settings.
type Config struct {
	Driver          string // schema.DialectSQLite or schema.DialectPostgres
	Path            string // sqlite database file
	DSN             string // postgres connection string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Engine owns the database handle. It opens lazily, creates the schema on
// first use and serializes writers: reads share the lock, a write holds it
// exclusively for the length of one transaction.
type Engine struct {
	cfg Config
	log *zap.Logger

	mu sync.Mutex // guards db
	db *gorm.DB

	rw sync.RWMutex
}

// New creates an engine. Nothing is opened until the first Open, Read or Write.
func New(cfg Config, log *zap.Logger) *Engine {
	if cfg.Driver == "" {
		cfg.Driver = schema.DialectSQLite
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, log: log}
}

// Open returns the database handle, connecting and creating the schema if
// needed. It is safe to call repeatedly; a failed attempt is retried on the
// next call.
func (e *Engine) Open(ctx context.Context) (*gorm.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db != nil {
		return e.db, nil
	}

	db, err := e.connect(ctx)
	if err != nil {
		e.log.Error("failed to open storage", zap.String("driver", e.cfg.Driver), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}
	e.db = db
	e.log.Info("storage opened", zap.String("driver", e.cfg.Driver), zap.String("path", e.cfg.Path))
	return db, nil
}

// Read runs fn with the shared lock held. Reads never observe a write in progress.
func (e *Engine) Read(ctx context.Context, fn func(db *gorm.DB) error) error {
	db, err := e.Open(ctx)
	if err != nil {
		return err
	}
	e.rw.RLock()
	defer e.rw.RUnlock()
	return fn(db.WithContext(ctx))
}

// Write runs fn inside a single transaction with the exclusive lock held.
// The transaction is committed before Write returns nil.
func (e *Engine) Write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db, err := e.Open(ctx)
	if err != nil {
		return err
	}
	e.rw.Lock()
	defer e.rw.Unlock()
	return db.WithContext(ctx).Transaction(fn)
}

// Close releases the connection. The engine may be opened again afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return nil
	}
	sqlDB, err := e.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database object: %w", err)
	}
	e.db = nil
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (e *Engine) connect(ctx context.Context) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	switch e.cfg.Driver {
	case schema.DialectSQLite:
		if e.cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path is empty")
		}
		if e.cfg.Path != MemoryPath {
			if err := os.MkdirAll(filepath.Dir(e.cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(e.cfg.Path), gcfg)
	case schema.DialectPostgres:
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  e.cfg.DSN,
			PreferSimpleProtocol: true,
		}), gcfg)
	default:
		return nil, fmt.Errorf("unsupported driver %q", e.cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}
	if e.cfg.Path == MemoryPath && e.cfg.Driver == schema.DialectSQLite {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if e.cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(e.cfg.MaxOpenConns)
		}
		if e.cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(e.cfg.MaxIdleConns)
		}
	}
	if e.cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(e.cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := e.ensureSchema(ctx, db); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (e *Engine) ensureSchema(ctx context.Context, db *gorm.DB) error {
	stmt, err := schema.CreateStatement(e.cfg.Driver)
	if err != nil {
		return err
	}
	db = db.WithContext(ctx)

	if e.cfg.Driver != schema.DialectSQLite {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create table %s: %w", schema.TableName, err)
		}
		return nil
	}

	var version int
	if err := db.Raw("PRAGMA user_version").Scan(&version).Error; err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > schema.Version {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schema.Version)
	}
	if version == schema.Version {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if version == 0 {
			e.log.Info("creating schema", zap.String("statement", stmt))
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to create table %s: %w", schema.TableName, err)
			}
		} else if err := upgrade(tx, version, schema.Version); err != nil {
			return err
		}
		if err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schema.Version)).Error; err != nil {
			return fmt.Errorf("failed to stamp schema version: %w", err)
		}
		return nil
	})
}

// upgrade migrates data in place from one schema version to the next. The
// schema is still at version 1, so there are no steps yet; a new column must
// add a case here that alters the table and backfills existing rows.
func upgrade(tx *gorm.DB, from, to int) error {
	for v := from; v < to; v++ {
		switch v {
		default:
			return fmt.Errorf("no migration from schema version %d", v)
		}
	}
	return nil
}
