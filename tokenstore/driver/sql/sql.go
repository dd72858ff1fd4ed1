// Package sql provides a relational token store backend. Connections use
// pure Go database drivers for CGO-free builds, with GORM layered on top
// of the shared *sql.DB for schema management and queries.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"                   // MySQL
	_ "github.com/jackc/pgx/v5/stdlib"                   // PostgreSQL via pgx
	_ "github.com/tursodatabase/libsql-client-go/libsql" // LibSQL/Turso
	_ "modernc.org/sqlite"                               // SQLite without cgo

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Config holds relational backend settings.
type Config struct {
	// Driver is one of mysql, postgres, sqlite, libsql. Inferred from the
	// DSN when empty.
	Driver string

	// DSN is the connection string for the chosen driver.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// tokenRow is the ingest_tokens table schema. PurgeAfter implements the
// backend TTL; expired rows are swept lazily on access.
type tokenRow struct {
	UserID     string     `gorm:"column:user_id;primaryKey;size:191"`
	Provider   string     `gorm:"column:provider;primaryKey;size:64"`
	Value      []byte     `gorm:"column:value"`
	PurgeAfter *time.Time `gorm:"column:purge_after;index"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

// TableName sets the GORM table name.
func (tokenRow) TableName() string {
	return "ingest_tokens"
}

// Store is a SQL token store backend.
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// New opens the database, verifies the connection, and migrates the
// ingest_tokens table.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	driver := cfg.Driver
	if driver == "" {
		driver = inferDriver(cfg.DSN)
	}

	sqlDB, err := openSQL(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.New(mysql.Config{Conn: sqlDB})
	case "postgres", "postgresql":
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	case "sqlite", "sqlite3", "libsql", "turso":
		dialector = sqlite.Dialector{Conn: sqlDB}
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize ORM: %w", err)
	}

	if err := gormDB.AutoMigrate(&tokenRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate token table: %w", err)
	}

	return &Store{db: gormDB, sqlDB: sqlDB}, nil
}

// openSQL opens a database/sql handle with the pure Go driver matching
// the dialect.
func openSQL(driver, dsn string) (*sql.DB, error) {
	var driverName string
	switch driver {
	case "mysql":
		driverName = "mysql"
	case "postgres", "postgresql":
		driverName = "pgx"
	case "sqlite", "sqlite3":
		driverName = "sqlite"
	case "libsql", "turso":
		driverName = "libsql"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// inferDriver guesses the dialect from the DSN shape. Explicit Config.Driver
// always wins.
func inferDriver(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(dsn, "libsql://"):
		return "libsql"
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:", strings.HasSuffix(dsn, ".db"):
		return "sqlite"
	default:
		return "mysql"
	}
}

// Get returns the blob for a key, or nil when absent or past its TTL.
func (s *Store) Get(ctx context.Context, userID, provider string) ([]byte, error) {
	var row tokenRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if row.PurgeAfter != nil && time.Now().After(*row.PurgeAfter) {
		if err := s.Delete(ctx, userID, provider); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return row.Value, nil
}

// Set upserts a blob; ttl == 0 stores without backend expiry. A negative
// ttl writes an immediately purgeable row.
func (s *Store) Set(ctx context.Context, userID, provider string, value []byte, ttl time.Duration) error {
	row := tokenRow{
		UserID:   userID,
		Provider: provider,
		Value:    value,
	}
	if ttl != 0 {
		purge := time.Now().Add(ttl)
		row.PurgeAfter = &purge
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "purge_after", "updated_at"}),
	}).Create(&row).Error
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, userID, provider string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&tokenRow{}).Error
}

// List sweeps expired rows for the user and returns remaining providers.
func (s *Store) List(ctx context.Context, userID string) ([]string, error) {
	now := time.Now()
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND purge_after IS NOT NULL AND purge_after < ?", userID, now).
		Delete(&tokenRow{}).Error; err != nil {
		return nil, err
	}

	var providers []string
	err := s.db.WithContext(ctx).
		Model(&tokenRow{}).
		Where("user_id = ?", userID).
		Order("provider").
		Pluck("provider", &providers).Error
	if err != nil {
		return nil, err
	}
	return providers, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Name identifies the driver.
func (s *Store) Name() string {
	return "sql"
}
