package cachestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kbukum/conduit/logger"
)

// Store persists materialized datasets in SQLite through GORM.
type Store struct {
	db  *gorm.DB
	cfg Config
	log *logger.Logger

	mu     sync.Mutex
	closed bool
}

// Open connects to the SQLite database named by cfg.DSN, retrying with a
// linear backoff, and migrates the cache schema.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.WithComponent("cachestore")

	slow, _ := time.ParseDuration(cfg.SlowQueryThreshold)
	gormCfg := &gorm.Config{
		Logger: newGormLogger(log, slow, parseLogLevel(cfg.LogLevel)),
	}

	var (
		db  *gorm.DB
		err error
	)
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("cache store open canceled: %w", ctx.Err())
		}
		db, err = connect(ctx, cfg, gormCfg)
		if err == nil {
			break
		}
		if attempt < cfg.MaxRetries {
			backoff := time.Duration(attempt) * 100 * time.Millisecond
			log.Warn("Cache store open failed, retrying", logger.Fields(
				"attempt", attempt, logger.FieldError, err.Error(), "backoff", backoff.String()))
			if waitErr := sleep(ctx, backoff); waitErr != nil {
				return nil, fmt.Errorf("cache store open canceled during retry: %w", waitErr)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store after %d attempts: %w", cfg.MaxRetries, err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&datasetRecord{}, &rowRecord{}); err != nil {
		return nil, fmt.Errorf("cache store migrate: %w", err)
	}
	log.Info("Cache store opened", logger.Fields("dsn", cfg.DSN))
	return &Store{db: db, cfg: cfg, log: log}, nil
}

func connect(ctx context.Context, cfg Config, gormCfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	if lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
		sqlDB.SetConnMaxLifetime(lifetime)
	}
	return db, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool. Safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.closed = true
	s.log.Info("Closing cache store")
	return sqlDB.Close()
}
