package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")
)

// Config holds relational store settings.
type Config struct {
	// Path is the SQLite database file. Default: "ragd.db".
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "ragd.db"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 8
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 4
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
}

// DB wraps the gorm handle with a bounded connection pool shared by
// request handlers and background workers.
type DB struct {
	gorm   *gorm.DB
	logger *zap.Logger
}

// Open opens the database, bounds the pool, and migrates the schema.
func Open(config Config, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	gdb, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", config.Path, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("accessing connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := gdb.AutoMigrate(&Document{}, &ProcessingJob{}, &AuditLog{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Info("database opened",
		zap.String("path", config.Path),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)

	return &DB{gorm: gdb, logger: logger}, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Healthy reports whether the database responds to a ping.
func (db *DB) Healthy(ctx context.Context) bool {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}
